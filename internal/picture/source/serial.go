package source

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// PortOptions are the line settings for a serial-attached radar head.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

var parityAliases = map[string]string{
	"":     "N",
	"N":    "N",
	"NONE": "N",
	"E":    "E",
	"EVEN": "E",
	"O":    "O",
	"ODD":  "O",
}

// Normalize fills defaults (19200 8N1) and rejects settings the port
// driver cannot express.
func (o PortOptions) Normalize() (PortOptions, error) {
	out := o
	if out.BaudRate <= 0 {
		out.BaudRate = 19200
	}
	if out.DataBits == 0 {
		out.DataBits = 8
	}
	if out.DataBits < 5 || out.DataBits > 8 {
		return out, fmt.Errorf("invalid data bits %d: must be between 5 and 8", out.DataBits)
	}
	if out.StopBits == 0 {
		out.StopBits = 1
	}
	if out.StopBits != 1 && out.StopBits != 2 {
		return out, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", out.StopBits)
	}
	p, ok := parityAliases[strings.ToUpper(strings.TrimSpace(out.Parity))]
	if !ok {
		return out, fmt.Errorf("unsupported parity %q: expected N, E, or O", out.Parity)
	}
	out.Parity = p
	return out, nil
}

// Equal reports whether both options open the port identically.
func (o PortOptions) Equal(other PortOptions) bool {
	a, errA := o.Normalize()
	b, errB := other.Normalize()
	return errA == nil && errB == nil && a == b
}

// SerialMode converts the options for serial.Open.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{BaudRate: opts.BaudRate, DataBits: opts.DataBits}

	// serial.StopBits is an enum, not a count.
	switch opts.StopBits {
	case 1:
		mode.StopBits = serial.OneStopBit
	case 2:
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "N":
		mode.Parity = serial.NoParity
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// PortOpener opens a serial device. Tests substitute a pipe.
type PortOpener func(path string, mode *serial.Mode) (io.ReadWriteCloser, error)

// OpenPort is the production PortOpener.
func OpenPort(path string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// NewSerialSource opens path with opts and decodes JSON-lines frames from
// it. A nil opener uses OpenPort.
func NewSerialSource(path string, opts PortOptions, dec LineDecoder, open PortOpener) (*LineSource, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	if open == nil {
		open = OpenPort
	}
	port, err := open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	logf("opened %s at %d baud", path, mode.BaudRate)
	return NewLineSource(port, dec), nil
}
