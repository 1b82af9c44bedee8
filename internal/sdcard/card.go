// Package sdcard emulates an SD card in SPI mode at the bit level, the way
// it is seen by firmware that bit-bangs the protocol through the Gigatron
// expander: one call per rising edge of SCLK, one MISO bit out per call.
//
// Supported commands:
//
//	CMD0   GO_IDLE_STATE
//	CMD8   SEND_IF_COND
//	CMD16  SET_BLOCKLEN (512 only)
//	CMD17  READ_SINGLE_BLOCK (byte addressed)
//	CMD55  APP_CMD
//	CMD58  READ_OCR
//	ACMD41 SD_SEND_OP_COND
//
// Command CRCs are received but never checked.
package sdcard

import (
	"errors"

	"github.com/nevisdale/gigasd/internal/crc16"
	"github.com/nevisdale/gigasd/internal/expander"
)

// BlockSize is the fixed transfer size of a read command.
const BlockSize = 512

// Slot is the expander slave select line the card is wired to.
const Slot = 0

const (
	cmdGoIdleState     = 0
	cmdSendIfCond      = 8
	cmdSetBlockLen     = 16
	cmdReadSingleBlock = 17
	cmdAppCmd          = 55
	cmdReadOCR         = 58

	acmdSendOpCond = 41
)

// R1 response bits
const (
	R1IdleState      = uint8(1 << 0)
	R1IllegalCommand = uint8(1 << 2)
)

// DataToken starts a data block.
const DataToken = 0xfe

var (
	ErrBufferInUse   = errors.New("sdcard: previous read buffer is still in use")
	ErrNoPendingRead = errors.New("sdcard: no read pending")
	ErrBufferSize    = errors.New("sdcard: read buffer must be exactly one block")
)

type Card struct {
	state    State
	bitCount int

	// command frame
	cmd      uint8
	arg      uint32
	checksum uint8

	idle       bool
	appCmd     bool
	invalidCmd bool
	// the last command went through the ACMD table
	acmd bool

	pendingRead bool
	addr        uint64

	// readData is borrowed from the caller of ProvideReadBuffer until the
	// last CRC bit has been sent.
	readData []byte
	readPos  int
	borrowed bool
	crc      uint16
}

func NewCard() *Card {
	return &Card{}
}

// Reset puts the card back into its power-on state and drops any borrowed
// read buffer.
func (c *Card) Reset() {
	*c = Card{}
}

func (c *Card) State() State {
	return c.state
}

// Idle reports the R1 idle flag: set by CMD0, cleared by ACMD41.
func (c *Card) Idle() bool {
	return c.idle
}

// Command returns the index and argument of the last received command frame.
func (c *Card) Command() (uint8, uint32) {
	return c.cmd, c.arg
}

// Response returns the R1 byte for the last dispatched command.
func (c *Card) Response() uint8 {
	var r uint8
	if c.idle {
		r |= R1IdleState
	}
	if c.invalidCmd {
		r |= R1IllegalCommand
	}
	return r
}

// OnRisingEdge advances the card by one bit-time. It does nothing while the
// card is not selected.
func (c *Card) OnRisingEdge(p *expander.Port) {
	if !p.Selected(Slot) {
		return
	}
	c.clock(p.MOSI(), p)
}

// PollPendingRead returns the byte address of a read that waits for
// ProvideReadBuffer.
func (c *Card) PollPendingRead() (uint64, bool) {
	if c.pendingRead {
		return c.addr, true
	}
	return 0, false
}

// ProvideReadBuffer satisfies the pending read with buf, which must hold
// the BlockSize bytes at the address returned by PollPendingRead. The card
// keeps a reference to buf while ReadBufferInUse reports true; the caller
// must neither modify nor reuse it during that time.
func (c *Card) ProvideReadBuffer(buf []byte) error {
	if c.borrowed {
		return ErrBufferInUse
	}
	if !c.pendingRead {
		return ErrNoPendingRead
	}
	if len(buf) != BlockSize {
		return ErrBufferSize
	}
	c.readData = buf
	c.readPos = 0
	c.borrowed = true
	c.pendingRead = false
	return nil
}

// ReadBufferInUse reports whether the card still references the buffer
// passed to ProvideReadBuffer.
func (c *Card) ReadBufferInUse() bool {
	return c.borrowed
}

func (c *Card) dispatch() {
	if c.appCmd {
		c.appCmd = false
		c.acmd = true
		c.invalidCmd = !c.handleAppCmd()
		return
	}
	c.acmd = false
	c.invalidCmd = !c.handleCmd()
}

func (c *Card) handleCmd() bool {
	switch c.cmd {
	case cmdGoIdleState:
		c.idle = true
		return true
	case cmdSendIfCond:
		return true
	case cmdSetBlockLen:
		return c.arg == BlockSize
	case cmdReadSingleBlock:
		c.addr = uint64(c.arg) * BlockSize
		c.pendingRead = true
		c.crc = 0
		return true
	case cmdAppCmd:
		c.appCmd = true
		return true
	case cmdReadOCR:
		return true
	}
	return false
}

func (c *Card) handleAppCmd() bool {
	switch c.cmd {
	case acmdSendOpCond:
		c.idle = false
		return true
	}
	return false
}

// next returns the state that follows the response byte.
func (c *Card) next() State {
	if c.acmd {
		return StateIdle
	}
	switch c.cmd {
	case cmdSendIfCond:
		return StateSendIfCond
	case cmdReadOCR:
		return StateSendOcr
	case cmdReadSingleBlock:
		return StateWaitRead
	}
	return StateIdle
}

func (c *Card) clock(mosi uint8, p *expander.Port) {
	switch c.state {
	case StateIdle:
		p.MISO = 1
		if mosi == 0 {
			c.state = StateRecvBit1
		}

	case StateRecvBit1:
		if mosi == 0 {
			c.state = StateIdle
			return
		}
		c.cmd = 0
		c.bitCount = 0
		c.state = StateRecvCmdNr

	case StateRecvCmdNr:
		c.cmd = c.cmd<<1 | mosi
		if c.bitCount < 5 {
			c.bitCount++
			return
		}
		c.arg = 0
		c.bitCount = 0
		c.state = StateRecvArg

	case StateRecvArg:
		c.arg = c.arg<<1 | uint32(mosi)
		if c.bitCount < 31 {
			c.bitCount++
			return
		}
		c.checksum = 0
		c.bitCount = 0
		c.state = StateRecvChecksum

	case StateRecvChecksum:
		c.checksum = c.checksum<<1 | mosi
		if c.bitCount < 7 {
			c.bitCount++
			return
		}
		c.dispatch()
		c.bitCount = 0
		c.state = StateSendResponse

	case StateSendResponse:
		p.MISO = bitAt(uint32(c.Response()), 8, c.bitCount)
		if c.bitCount < 7 {
			c.bitCount++
			return
		}
		c.bitCount = 0
		c.state = c.next()

	case StateSendIfCond:
		// 24 reserved bits, then the check pattern echoed from the argument
		p.MISO = bitAt(c.arg&0xff, 32, c.bitCount)
		if c.bitCount < 31 {
			c.bitCount++
			return
		}
		c.state = StateIdle

	case StateSendOcr:
		p.MISO = 0
		if c.bitCount < 31 {
			c.bitCount++
			return
		}
		c.state = StateIdle

	case StateWaitRead:
		p.MISO = 1
		if c.bitCount < 7 {
			c.bitCount++
			return
		}
		c.bitCount = 0
		if c.borrowed {
			c.state = StateSendStart
		}

	case StateSendStart:
		p.MISO = bitAt(DataToken, 8, c.bitCount)
		if c.bitCount < 7 {
			c.bitCount++
			return
		}
		c.bitCount = 0
		c.state = StateSendData

	case StateSendData:
		b := c.readData[c.readPos]
		p.MISO = bitAt(uint32(b), 8, c.bitCount)
		if c.bitCount < 7 {
			c.bitCount++
			return
		}
		c.bitCount = 0
		c.crc = crc16.Update(c.crc, b)
		c.readPos++
		if c.readPos == len(c.readData) {
			c.state = StateSendCrc
		}

	case StateSendCrc:
		p.MISO = bitAt(uint32(c.crc), 16, c.bitCount)
		if c.bitCount < 15 {
			c.bitCount++
			return
		}
		c.bitCount = 0
		c.readData = nil
		c.borrowed = false
		c.state = StateIdle
	}
}

// bitAt returns bit i of a width bit value, counting from the MSB.
func bitAt(v uint32, width, i int) uint8 {
	return uint8(v>>(width-1-i)) & 1
}
