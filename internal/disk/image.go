package disk

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nevisdale/gigasd/internal/sdcard"
)

// Image is the backing store of the card: a flat sequence of bytes, usually
// a raw dump of a FAT formatted SD card.
type Image struct {
	r    io.ReaderAt
	size int64

	closer io.Closer
}

// Open opens an image file read-only.
func Open(path string) (*Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the image: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("couldn't stat the image: %w", err)
	}

	img := NewImage(file, info.Size())
	img.closer = file
	return img, nil
}

func NewImage(r io.ReaderAt, size int64) *Image {
	return &Image{r: r, size: size}
}

func (img *Image) Size() int64 {
	return img.size
}

// Blocks returns the number of whole blocks in the image.
func (img *Image) Blocks() uint64 {
	return uint64(img.size) / sdcard.BlockSize
}

func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return img.closer.Close()
}

// ReadBlock fills buf with the block that starts at the byte address addr.
// Bytes past the end of the image read as zero.
func (img *Image) ReadBlock(addr uint64, buf []byte) error {
	if len(buf) != sdcard.BlockSize {
		return fmt.Errorf("expected a %d byte buffer, got %d bytes", sdcard.BlockSize, len(buf))
	}
	clear(buf)

	if addr >= uint64(img.size) {
		return nil
	}
	n := min(uint64(len(buf)), uint64(img.size)-addr)
	if _, err := img.r.ReadAt(buf[:n], int64(addr)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("couldn't read block at %#x: %w", addr, err)
	}
	return nil
}
