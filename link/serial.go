package link

import (
	"go.bug.st/serial"
)

// openSerial opens a real serial adapter. The returned port satisfies
// [Port] directly: go.bug.st/serial exposes SetReadTimeout and
// ResetInputBuffer with the semantics Link relies on.
func openSerial(name string, baud int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}
