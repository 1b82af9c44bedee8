package disk

import (
	"log"

	"github.com/nevisdale/gigasd/internal/sdcard"
)

// Server answers the read requests of a card from an image. Service is
// meant to be called once per emulated cycle.
type Server struct {
	img  *Image
	card *sdcard.Card
	buf  [sdcard.BlockSize]byte

	// cycles to wait before a pending read is answered
	latency int
	wait    int
	waiting bool

	served uint64
}

func NewServer(img *Image, card *sdcard.Card, latency int) *Server {
	return &Server{
		img:     img,
		card:    card,
		latency: max(latency, 0),
	}
}

// Service supplies the block of a pending read once the configured latency
// has passed. It reports whether a buffer was handed to the card.
func (s *Server) Service() bool {
	addr, ok := s.card.PollPendingRead()
	if !ok {
		s.waiting = false
		return false
	}
	if !s.waiting {
		s.waiting = true
		s.wait = s.latency
	}
	if s.wait > 0 {
		s.wait--
		return false
	}
	// the card still sends from buf
	if s.card.ReadBufferInUse() {
		return false
	}

	if err := s.img.ReadBlock(addr, s.buf[:]); err != nil {
		// firmware can't be told about it, a zero block is better than a hang
		log.Printf("disk: %s, sending zeros\n", err)
		clear(s.buf[:])
	}
	if err := s.card.ProvideReadBuffer(s.buf[:]); err != nil {
		log.Printf("disk: couldn't provide block %#x: %s\n", addr, err)
		return false
	}
	s.waiting = false
	s.served++
	return true
}

// Served returns the number of blocks handed to the card.
func (s *Server) Served() uint64 {
	return s.served
}
