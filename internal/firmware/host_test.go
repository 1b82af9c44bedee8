package firmware

import (
	"bytes"
	"testing"

	"github.com/nevisdale/gigasd/internal/disk"
	"github.com/nevisdale/gigasd/internal/gigatron"
	"github.com/nevisdale/gigasd/internal/sdcard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImage(blocks int) []byte {
	data := make([]byte, blocks*sdcard.BlockSize)
	for i := range data {
		data[i] = byte(i*31 + i/sdcard.BlockSize)
	}
	return data
}

func newHost(t *testing.T, data []byte, latency int) *Host {
	t.Helper()
	b := gigatron.NewBoard()
	b.AttachImage(disk.NewImage(bytes.NewReader(data), int64(len(data))), latency)
	return New(b)
}

func Test_CRC7(t *testing.T) {
	assert.Equal(t, byte(0x95), crc7([]byte{0x40, 0, 0, 0, 0})<<1|1)
	assert.Equal(t, byte(0x87), crc7([]byte{0x48, 0, 0, 0x01, 0xaa})<<1|1)
	assert.Equal(t, byte(0x00), crc7(nil))
}

func Test_Init(t *testing.T) {
	h := newHost(t, newImage(1), 0)
	require.NoError(t, h.Init())
	assert.Equal(t, uint32(0), h.OCR())
	assert.False(t, h.board.Card().Idle())
	assert.Equal(t, sdcard.StateIdle, h.board.Card().State())
}

func Test_Command(t *testing.T) {
	type testArgs struct {
		cmd      uint8
		arg      uint32
		expected byte
	}

	testDo := func(t *testing.T, in testArgs) {
		h := newHost(t, newImage(1), 0)
		r, err := h.Command(cmdGoIdleState, 0)
		require.NoError(t, err)
		require.Equal(t, sdcard.R1IdleState, r)

		r, err = h.Command(in.cmd, in.arg)
		require.NoError(t, err)
		assert.Equal(t, in.expected, r)
	}

	t.Run("set block length", func(t *testing.T) {
		testDo(t, testArgs{cmd: cmdSetBlockLen, arg: 512, expected: 0x01})
	})

	t.Run("bad block length", func(t *testing.T) {
		testDo(t, testArgs{cmd: cmdSetBlockLen, arg: 1024, expected: 0x05})
	})

	t.Run("CMD24 is not supported", func(t *testing.T) {
		testDo(t, testArgs{cmd: 24, expected: 0x05})
	})
}

func Test_ReadBlock(t *testing.T) {
	data := newImage(8)

	t.Run("every block", func(t *testing.T) {
		h := newHost(t, data, 0)
		require.NoError(t, h.Init())

		buf := make([]byte, sdcard.BlockSize)
		for n := uint32(0); n < 8; n++ {
			require.NoError(t, h.ReadBlock(n, buf))
			assert.Equal(t, data[n*sdcard.BlockSize:(n+1)*sdcard.BlockSize], buf, "block %d", n)
		}
		assert.Equal(t, uint64(8), h.board.Disk().Served())
		assert.False(t, h.board.Card().ReadBufferInUse())
	})

	t.Run("with host latency", func(t *testing.T) {
		h := newHost(t, data, 5000)
		require.NoError(t, h.Init())

		buf := make([]byte, sdcard.BlockSize)
		require.NoError(t, h.ReadBlock(6, buf))
		assert.Equal(t, data[6*sdcard.BlockSize:7*sdcard.BlockSize], buf)
	})

	t.Run("past the end of the image", func(t *testing.T) {
		h := newHost(t, data, 0)
		require.NoError(t, h.Init())

		buf := newImage(1)
		require.NoError(t, h.ReadBlock(100, buf))
		assert.Equal(t, make([]byte, sdcard.BlockSize), buf)
	})

	t.Run("no storage attached", func(t *testing.T) {
		h := New(gigatron.NewBoard())
		h.MaxTokenPolls = 64
		require.NoError(t, h.Init())

		err := h.ReadBlock(0, make([]byte, sdcard.BlockSize))
		assert.ErrorIs(t, err, ErrNoToken)
		assert.Equal(t, sdcard.StateWaitRead, h.board.Card().State())
	})

	t.Run("before init", func(t *testing.T) {
		h := newHost(t, data, 0)
		r, err := h.Command(cmdGoIdleState, 0)
		require.NoError(t, err)
		require.Equal(t, sdcard.R1IdleState, r)

		// idle bit set in R1
		err = h.ReadBlock(0, make([]byte, sdcard.BlockSize))
		assert.ErrorIs(t, err, ErrRejected)
	})

	t.Run("wrong buffer size", func(t *testing.T) {
		h := newHost(t, data, 0)
		assert.Error(t, h.ReadBlock(0, make([]byte, 10)))
	})
}

func Test_ReadBlockProbes(t *testing.T) {
	data := newImage(2)
	h := newHost(t, data, 0)
	require.NoError(t, h.Init())

	h.board.Record(1 << 16)
	require.NoError(t, h.ReadBlock(1, make([]byte, sdcard.BlockSize)))

	probes := h.board.Probes()
	// command, response, busy byte, token, data, crc
	require.Len(t, probes, 8*(6+1+1+1+sdcard.BlockSize+2))

	var token byte
	for _, p := range probes[8*8 : 8*9] {
		token = token<<1 | p.MISO
	}
	assert.Equal(t, byte(sdcard.DataToken), token)
	assert.Equal(t, sdcard.StateIdle, probes[len(probes)-1].State)
	for _, p := range probes {
		assert.True(t, p.Selected)
	}
}
