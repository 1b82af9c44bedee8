package expander

const (
	// Control register layout, as written by the CPU's ctrl instruction:
	//
	// bit 0:     SCLK
	// bit 1:     unused
	// bits 2-5:  /SS0../SS3, active low
	// bits 6-7:  RAM bank select
	// bits 8-14: unused
	// bit 15:    MOSI
	ctrlSCLK   = uint16(1 << 0)
	ctrlSS0    = uint16(1 << 2)
	ctrlSSMask = uint16(0x003c)
	ctrlMOSI   = uint16(1 << 15)

	// Slots is the number of slave select lines on the expander.
	Slots = 4
)

// Port is the part of the CPU state the expander shares with its SPI
// devices. Control is owned by the CPU, MISO is written by the selected
// device and sampled by the CPU on the following cycles.
type Port struct {
	Control uint16
	MISO    uint8
}

func (p Port) MOSI() uint8 {
	return uint8((p.Control & ctrlMOSI) >> 15)
}

func (p Port) SCLK() bool {
	return p.Control&ctrlSCLK != 0
}

// Selected reports whether the slave select line of slot is pulled low.
func (p Port) Selected(slot int) bool {
	if slot < 0 || slot >= Slots {
		return false
	}
	return p.Control&(ctrlSS0<<slot) == 0
}

func (p *Port) SetMISO(v bool) {
	if v {
		p.MISO = 1
		return
	}
	p.MISO = 0
}

// ControlWord builds a control value with the given MOSI and SCLK levels and
// only the slave in slot selected. A negative slot deselects every slave.
func ControlWord(mosi, sclk bool, slot int) uint16 {
	v := ctrlSSMask
	if slot >= 0 && slot < Slots {
		v &^= ctrlSS0 << slot
	}
	if mosi {
		v |= ctrlMOSI
	}
	if sclk {
		v |= ctrlSCLK
	}
	return v
}
