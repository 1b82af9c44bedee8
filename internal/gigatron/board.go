package gigatron

import (
	"github.com/nevisdale/gigasd/internal/disk"
	"github.com/nevisdale/gigasd/internal/expander"
	"github.com/nevisdale/gigasd/internal/sdcard"
)

// Periph holds the state of every peripheral on the board. The set is
// fixed, so each one is a plain field stepped by the board.
type Periph struct {
	Clock  uint64
	SDCard sdcard.Card
}

// Probe is a snapshot of the SPI lines taken on a rising edge of SCLK,
// after the card has reacted to it.
type Probe struct {
	Cycle    uint64
	MOSI     uint8
	MISO     uint8
	Selected bool
	State    sdcard.State
}

type Board struct {
	port   expander.Port
	periph Periph
	disk   *disk.Server

	// SCLK level seen on the previous cycle
	sclk bool

	recording  bool
	probeLimit int
	probes     []Probe
}

func NewBoard() *Board {
	b := &Board{}
	// MISO idles high through the pull-up
	b.port.MISO = 1
	b.port.Control = expander.ControlWord(false, false, -1)
	return b
}

// AttachImage lets the board answer card reads from img. latency is the
// number of cycles a read waits before its block is supplied.
func (b *Board) AttachImage(img *disk.Image, latency int) {
	b.disk = disk.NewServer(img, &b.periph.SDCard, latency)
}

// Card gives access to the card for inspection and for callers that serve
// reads themselves.
func (b *Board) Card() *sdcard.Card {
	return &b.periph.SDCard
}

// Disk returns the server attached by AttachImage, or nil.
func (b *Board) Disk() *disk.Server {
	return b.disk
}

func (b *Board) Clock() uint64 {
	return b.periph.Clock
}

// WriteControl is the ctrl instruction: it latches v into the expander
// control register. The devices see it on the next Tic.
func (b *Board) WriteControl(v uint16) {
	b.port.Control = v
}

func (b *Board) Control() uint16 {
	return b.port.Control
}

// MISO returns the input bit as the CPU sees it.
func (b *Board) MISO() uint8 {
	return b.port.MISO
}

// Record starts keeping up to limit probes, dropping any kept so far. A
// limit of zero or less stops recording.
func (b *Board) Record(limit int) {
	b.probes = nil
	b.recording = limit > 0
	b.probeLimit = limit
}

func (b *Board) Probes() []Probe {
	return b.probes
}

func (b *Board) Reset() {
	b.periph = Periph{}
	b.port = expander.Port{MISO: 1, Control: expander.ControlWord(false, false, -1)}
	b.sclk = false
	b.probes = nil
}

// Tic runs one clock cycle.
func (b *Board) Tic() {
	sclk := b.port.SCLK()
	if sclk && !b.sclk {
		b.periph.SDCard.OnRisingEdge(&b.port)
		b.probe()
	}
	b.sclk = sclk

	if b.disk != nil {
		b.disk.Service()
	}
	b.periph.Clock++
}

func (b *Board) probe() {
	if !b.recording || len(b.probes) >= b.probeLimit {
		return
	}
	b.probes = append(b.probes, Probe{
		Cycle:    b.periph.Clock,
		MOSI:     b.port.MOSI(),
		MISO:     b.port.MISO,
		Selected: b.port.Selected(sdcard.Slot),
		State:    b.periph.SDCard.State(),
	})
}
