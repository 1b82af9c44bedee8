package gigatron

import (
	"fmt"
	"strings"

	"github.com/nevisdale/gigasd/internal/sdcard"
)

// Transfer is one byte on the SPI bus, assembled from eight consecutive
// probes.
type Transfer struct {
	Cycle uint64 // cycle of the first bit
	Index int    // index of the first probe
	MOSI  byte
	MISO  byte
	// card state after the last bit
	State sdcard.State
}

// Transfers groups probes into bytes, assuming the first probe is the MSB of
// a byte. A trailing partial byte is dropped.
func Transfers(probes []Probe) []Transfer {
	out := make([]Transfer, 0, len(probes)/8)
	for i := 0; i+8 <= len(probes); i += 8 {
		t := Transfer{Cycle: probes[i].Cycle, Index: i}
		for _, p := range probes[i : i+8] {
			t.MOSI = t.MOSI<<1 | p.MOSI
			t.MISO = t.MISO<<1 | p.MISO
		}
		t.State = probes[i+7].State
		out = append(out, t)
	}
	return out
}

// Dump formats transfers one per line, like a logic analyzer export.
func Dump(transfers []Transfer) string {
	var sb strings.Builder
	for _, t := range transfers {
		fmt.Fprintf(&sb, "%10d  MOSI %02X  MISO %02X  %s\n", t.Cycle, t.MOSI, t.MISO, t.State)
	}
	return sb.String()
}
