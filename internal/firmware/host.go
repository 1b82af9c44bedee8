// Package firmware drives the board the way the SD card routines of the
// Gigatron ROM do: every SPI bit is a ctrl write with SCLK low followed by
// one with SCLK high, then MISO is sampled.
package firmware

import (
	"errors"
	"fmt"

	"github.com/nevisdale/gigasd/internal/crc16"
	"github.com/nevisdale/gigasd/internal/expander"
	"github.com/nevisdale/gigasd/internal/gigatron"
	"github.com/nevisdale/gigasd/internal/sdcard"
)

const (
	cmdGoIdleState     = 0
	cmdSendIfCond      = 8
	cmdSetBlockLen     = 16
	cmdReadSingleBlock = 17
	cmdAppCmd          = 55
	cmdReadOCR         = 58
	acmdSendOpCond     = 41

	// bytes polled for an R1 response
	responsePolls = 8
	// ACMD41 attempts before giving up
	opCondAttempts = 100
	// voltage range 2.7-3.6V and the check pattern
	ifCondArg = 0x1aa
	hcsBit    = 0x40000000

	defaultTokenPolls = 4096
)

var (
	ErrNoResponse = errors.New("no response from card")
	ErrRejected   = errors.New("command rejected")
	ErrNoToken    = errors.New("timeout waiting for the data token")
	ErrBadToken   = errors.New("unexpected data token")
	ErrCRC        = errors.New("data crc mismatch")
	ErrInit       = errors.New("card initialization failed")
)

type Host struct {
	board *gigatron.Board
	slot  int

	// MaxTokenPolls is the number of bytes read while waiting for the start
	// of a data block.
	MaxTokenPolls int

	ocr uint32
}

func New(board *gigatron.Board) *Host {
	return &Host{
		board:         board,
		slot:          sdcard.Slot,
		MaxTokenPolls: defaultTokenPolls,
	}
}

func (h *Host) bit(out uint8, slot int) uint8 {
	mosi := out != 0
	h.board.WriteControl(expander.ControlWord(mosi, false, slot))
	h.board.Tic()
	h.board.WriteControl(expander.ControlWord(mosi, true, slot))
	h.board.Tic()
	return h.board.MISO()
}

// Exchange shifts out one byte MSB first and returns the byte shifted in.
func (h *Host) Exchange(out byte) byte {
	var in byte
	for i := 7; i >= 0; i-- {
		in = in<<1 | h.bit(out>>i&1, h.slot)
	}
	return in
}

// Deselect raises every slave select and sends one byte of clocks.
func (h *Host) Deselect() {
	for i := 0; i < 8; i++ {
		h.bit(1, -1)
	}
}

// Command sends a command frame and returns the R1 response.
func (h *Host) Command(cmd uint8, arg uint32) (byte, error) {
	frame := [6]byte{
		0x40 | cmd&0x3f,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
	}
	frame[5] = crc7(frame[:5])<<1 | 1

	for _, b := range frame {
		h.Exchange(b)
	}
	for i := 0; i < responsePolls; i++ {
		if r := h.Exchange(0xff); r&0x80 == 0 {
			return r, nil
		}
	}
	return 0xff, fmt.Errorf("CMD%d: %w", cmd, ErrNoResponse)
}

// AppCommand sends CMD55 followed by cmd.
func (h *Host) AppCommand(cmd uint8, arg uint32) (byte, error) {
	if _, err := h.Command(cmdAppCmd, 0); err != nil {
		return 0xff, err
	}
	return h.Command(cmd, arg)
}

func (h *Host) readBytes(dst []byte) {
	for i := range dst {
		dst[i] = h.Exchange(0xff)
	}
}

// Init runs the SPI mode start-up sequence: CMD0, CMD8, ACMD41 until the
// card leaves the idle state, CMD58 and CMD16.
func (h *Host) Init() error {
	// at least 74 clocks with the card deselected
	for i := 0; i < 10; i++ {
		h.Deselect()
	}

	r, err := h.Command(cmdGoIdleState, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if r != sdcard.R1IdleState {
		return fmt.Errorf("%w: CMD0 returned %#02x", ErrInit, r)
	}

	r, err = h.Command(cmdSendIfCond, ifCondArg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if r&sdcard.R1IllegalCommand != 0 {
		return fmt.Errorf("%w: version 1 cards are not supported", ErrInit)
	}
	var r7 [4]byte
	h.readBytes(r7[:])
	if r7[3] != ifCondArg&0xff {
		return fmt.Errorf("%w: CMD8 echoed %#02x", ErrInit, r7[3])
	}

	ready := false
	for i := 0; i < opCondAttempts && !ready; i++ {
		r, err = h.AppCommand(acmdSendOpCond, hcsBit)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInit, err)
		}
		ready = r == 0
	}
	if !ready {
		return fmt.Errorf("%w: card stays idle after ACMD41 (%#02x)", ErrInit, r)
	}

	r, err = h.Command(cmdReadOCR, 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if r != 0 {
		return fmt.Errorf("%w: CMD58 returned %#02x", ErrInit, r)
	}
	var ocr [4]byte
	h.readBytes(ocr[:])
	h.ocr = uint32(ocr[0])<<24 | uint32(ocr[1])<<16 | uint32(ocr[2])<<8 | uint32(ocr[3])

	r, err = h.Command(cmdSetBlockLen, sdcard.BlockSize)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if r != 0 {
		return fmt.Errorf("%w: CMD16 returned %#02x", ErrInit, r)
	}

	h.Deselect()
	return nil
}

// OCR returns the operating conditions register read by Init.
func (h *Host) OCR() uint32 {
	return h.ocr
}

// ReadBlock reads block n into dst and checks the data CRC.
func (h *Host) ReadBlock(n uint32, dst []byte) error {
	if len(dst) != sdcard.BlockSize {
		return fmt.Errorf("expected a %d byte buffer, got %d bytes", sdcard.BlockSize, len(dst))
	}

	r, err := h.Command(cmdReadSingleBlock, n)
	if err != nil {
		return err
	}
	if r != 0 {
		return fmt.Errorf("CMD17 block %d: %w (%#02x)", n, ErrRejected, r)
	}

	token := byte(0xff)
	for i := 0; token == 0xff; i++ {
		if i >= h.MaxTokenPolls {
			return fmt.Errorf("block %d: %w", n, ErrNoToken)
		}
		token = h.Exchange(0xff)
	}
	if token != sdcard.DataToken {
		return fmt.Errorf("block %d: %w %#02x", n, ErrBadToken, token)
	}

	h.readBytes(dst)
	var trailer [2]byte
	h.readBytes(trailer[:])

	got := uint16(trailer[0])<<8 | uint16(trailer[1])
	if want := crc16.Checksum(dst); got != want {
		return fmt.Errorf("block %d: %w: received %04x, computed %04x", n, ErrCRC, got, want)
	}
	return nil
}

// crc7 is the command frame checksum, polynomial x^7 + x^3 + 1.
func crc7(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			fb := (b>>i ^ crc>>6) & 1
			crc = crc << 1 & 0x7f
			if fb != 0 {
				crc ^= 0x09
			}
		}
	}
	return crc
}
