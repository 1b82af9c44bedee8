package disk

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/nevisdale/gigasd/internal/expander"
	"github.com/nevisdale/gigasd/internal/sdcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type readerAtMock struct {
	mock.Mock
}

func (m *readerAtMock) ReadAt(p []byte, off int64) (int, error) {
	args := m.Called(p, off)
	return args.Int(0), args.Error(1)
}

func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i ^ i>>9)
	}
	return data
}

func Test_ReadBlock(t *testing.T) {
	data := pattern(3*sdcard.BlockSize + 100)
	img := NewImage(bytes.NewReader(data), int64(len(data)))

	t.Run("whole block", func(t *testing.T) {
		buf := make([]byte, sdcard.BlockSize)
		require.NoError(t, img.ReadBlock(sdcard.BlockSize, buf))
		assert.Equal(t, data[sdcard.BlockSize:2*sdcard.BlockSize], buf)
	})

	t.Run("misaligned address", func(t *testing.T) {
		buf := make([]byte, sdcard.BlockSize)
		require.NoError(t, img.ReadBlock(17, buf))
		assert.Equal(t, data[17:17+sdcard.BlockSize], buf)
	})

	t.Run("partial block at the end is zero padded", func(t *testing.T) {
		buf := pattern(sdcard.BlockSize)
		require.NoError(t, img.ReadBlock(3*sdcard.BlockSize, buf))
		assert.Equal(t, data[3*sdcard.BlockSize:], buf[:100])
		assert.Equal(t, make([]byte, sdcard.BlockSize-100), buf[100:])
	})

	t.Run("past the end reads zeros", func(t *testing.T) {
		buf := pattern(sdcard.BlockSize)
		require.NoError(t, img.ReadBlock(1<<40, buf))
		assert.Equal(t, make([]byte, sdcard.BlockSize), buf)
	})

	t.Run("wrong buffer size", func(t *testing.T) {
		assert.Error(t, img.ReadBlock(0, make([]byte, 10)))
	})

	assert.Equal(t, uint64(3), img.Blocks())
	assert.Equal(t, int64(len(data)), img.Size())
	assert.NoError(t, img.Close())
}

func Test_ReadBlockError(t *testing.T) {
	r := &readerAtMock{}
	r.On("ReadAt", mock.Anything, int64(sdcard.BlockSize)).Return(0, errors.New("bad sector"))

	img := NewImage(r, 4*sdcard.BlockSize)
	err := img.ReadBlock(sdcard.BlockSize, make([]byte, sdcard.BlockSize))
	assert.ErrorContains(t, err, "bad sector")
	r.AssertExpectations(t)
}

func Test_ReadBlockShortReadWithEOF(t *testing.T) {
	r := &readerAtMock{}
	r.On("ReadAt", mock.Anything, int64(0)).
		Run(func(args mock.Arguments) {
			copy(args.Get(0).([]byte), []byte{1, 2, 3})
		}).
		Return(3, errors.Join(errors.New("short"), io.EOF))

	img := NewImage(r, sdcard.BlockSize)
	buf := make([]byte, sdcard.BlockSize)
	require.NoError(t, img.ReadBlock(0, buf))
	assert.Equal(t, []byte{1, 2, 3, 0}, buf[:4])
}

func Test_Open(t *testing.T) {
	data := pattern(2 * sdcard.BlockSize)
	path := filepath.Join(t.TempDir(), "sd.img")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	img, err := Open(path)
	require.NoError(t, err)
	defer img.Close()

	assert.Equal(t, uint64(2), img.Blocks())
	buf := make([]byte, sdcard.BlockSize)
	require.NoError(t, img.ReadBlock(sdcard.BlockSize, buf))
	assert.Equal(t, data[sdcard.BlockSize:], buf)

	_, err = Open(filepath.Join(t.TempDir(), "missing.img"))
	assert.Error(t, err)
}

// sendRead clocks a CMD17 frame and its response into card.
func sendRead(card *sdcard.Card, block uint32) {
	var p expander.Port
	frame := []byte{0x40 | 17, byte(block >> 24), byte(block >> 16), byte(block >> 8), byte(block), 0x01, 0xff}
	for _, b := range frame {
		for i := 7; i >= 0; i-- {
			p.Control = expander.ControlWord(b>>i&1 != 0, true, sdcard.Slot)
			card.OnRisingEdge(&p)
		}
	}
}

func Test_Server(t *testing.T) {
	data := pattern(8 * sdcard.BlockSize)
	img := NewImage(bytes.NewReader(data), int64(len(data)))

	t.Run("nothing pending", func(t *testing.T) {
		card := sdcard.NewCard()
		s := NewServer(img, card, 0)
		assert.False(t, s.Service())
		assert.Equal(t, uint64(0), s.Served())
	})

	t.Run("serves immediately without latency", func(t *testing.T) {
		card := sdcard.NewCard()
		s := NewServer(img, card, 0)
		sendRead(card, 2)

		assert.True(t, s.Service())
		assert.True(t, card.ReadBufferInUse())
		assert.Equal(t, data[2*sdcard.BlockSize:3*sdcard.BlockSize], s.buf[:])
		assert.False(t, s.Service())
		assert.Equal(t, uint64(1), s.Served())
	})

	t.Run("waits for the latency", func(t *testing.T) {
		card := sdcard.NewCard()
		s := NewServer(img, card, 3)
		sendRead(card, 1)

		for i := 0; i < 3; i++ {
			assert.False(t, s.Service(), "call %d", i)
		}
		assert.True(t, s.Service())
	})

	t.Run("io error serves zeros", func(t *testing.T) {
		r := &readerAtMock{}
		r.On("ReadAt", mock.Anything, mock.Anything).Return(0, errors.New("gone"))

		card := sdcard.NewCard()
		s := NewServer(NewImage(r, 8*sdcard.BlockSize), card, 0)
		s.buf[0] = 0xaa
		sendRead(card, 0)

		assert.True(t, s.Service())
		assert.Equal(t, make([]byte, sdcard.BlockSize), s.buf[:])
	})
}
