package sdcard

// State is the position of the card in its SPI protocol. Every rising edge
// of SCLK with the card selected advances it by one bit-time.
type State uint8

const (
	StateIdle         State = iota // waiting for a start bit, MISO high
	StateRecvBit1                  // transmission bit of a command frame
	StateRecvCmdNr                 // 6 bit command index
	StateRecvArg                   // 32 bit argument
	StateRecvChecksum              // 7 bit CRC and end bit
	StateSendResponse              // R1 byte
	StateWaitRead                  // busy until a read buffer is supplied
	StateSendIfCond                // trailing 32 bits of R7
	StateSendOcr                   // trailing 32 bits of R3
	StateSendStart                 // data token
	StateSendData                  // 512 data bytes
	StateSendCrc                   // 16 bit data CRC
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRecvBit1:
		return "RECVBIT1"
	case StateRecvCmdNr:
		return "RECVCMDNR"
	case StateRecvArg:
		return "RECVARG"
	case StateRecvChecksum:
		return "RECVCHECKSUM"
	case StateSendResponse:
		return "SENDRESPONSE"
	case StateWaitRead:
		return "WAITREAD"
	case StateSendIfCond:
		return "SENDIFCOND"
	case StateSendOcr:
		return "SENDOCR"
	case StateSendStart:
		return "SENDSTART"
	case StateSendData:
		return "SENDDATA"
	case StateSendCrc:
		return "SENDCRC"
	}
	return "???"
}
