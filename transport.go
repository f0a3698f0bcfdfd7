package cereal

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// Parity defines serial port parity options.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// StopBits defines serial port stop bit options.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// Mode holds the line parameters for a port. The zero value means 9600 8N1.
type Mode struct {
	BaudRate int
	DataBits int // 7 or 8, default 8
	Parity   Parity
	StopBits StopBits
}

// ModemStatus reports the state of the input modem control lines.
type ModemStatus struct {
	CTS bool
	DSR bool
	RI  bool
	DCD bool
}

// Transport is the byte-level port primitive the acquisition loop drains.
// Implementations wrap the operating system serial device; the fake used in
// tests wraps a slice. ReadAvailable returns whatever bytes the device
// currently has, possibly none, and must not block longer than a short
// internal timeout. While a Port owns a Transport, callers must not read from
// it directly: direct reads steal bytes from the acquisition pipeline.
type Transport interface {
	ReadAvailable() ([]byte, error)
	Write(p []byte) (int, error)
	Drain() error
	ResetInput() error
	ResetOutput() error
	SetMode(mode Mode) error
	SetRTS(level bool) error
	SetDTR(level bool) error
	Break(d time.Duration) error
	ModemStatus() (ModemStatus, error)
	Close() error
}

// readChunk is the per-iteration read size. 4096 matches the kernel receive
// buffer this package exists to outrun, so one iteration can always drain it.
const readChunk = 4096

// ListPorts returns the serial port device names known to the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list ports: %w", err)
	}
	return ports, nil
}

// portTransport adapts a go.bug.st/serial port to Transport. The port is
// opened with a short read timeout so ReadAvailable returns promptly whether
// or not data arrived.
type portTransport struct {
	port serial.Port
	buf  [readChunk]byte
}

func openTransport(device string, mode Mode, readTimeout time.Duration) (*portTransport, error) {
	p, err := serial.Open(device, toSerialMode(mode))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	if err := p.SetReadTimeout(readTimeout); err != nil {
		p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return &portTransport{port: p}, nil
}

func (t *portTransport) ReadAvailable() ([]byte, error) {
	n, err := t.port.Read(t.buf[:])
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

func (t *portTransport) Write(p []byte) (int, error) {
	return t.port.Write(p)
}

func (t *portTransport) Drain() error {
	return t.port.Drain()
}

func (t *portTransport) ResetInput() error {
	return t.port.ResetInputBuffer()
}

func (t *portTransport) ResetOutput() error {
	return t.port.ResetOutputBuffer()
}

func (t *portTransport) SetMode(mode Mode) error {
	return t.port.SetMode(toSerialMode(mode))
}

func (t *portTransport) SetRTS(level bool) error {
	return t.port.SetRTS(level)
}

func (t *portTransport) SetDTR(level bool) error {
	return t.port.SetDTR(level)
}

func (t *portTransport) Break(d time.Duration) error {
	return t.port.Break(d)
}

func (t *portTransport) ModemStatus() (ModemStatus, error) {
	bits, err := t.port.GetModemStatusBits()
	if err != nil {
		return ModemStatus{}, err
	}
	return ModemStatus{CTS: bits.CTS, DSR: bits.DSR, RI: bits.RI, DCD: bits.DCD}, nil
}

func (t *portTransport) Close() error {
	return t.port.Close()
}

func toSerialMode(mode Mode) *serial.Mode {
	baud := mode.BaudRate
	if baud == 0 {
		baud = 9600
	}
	bits := mode.DataBits
	if bits == 0 {
		bits = 8
	}
	out := &serial.Mode{
		BaudRate: baud,
		DataBits: bits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	switch mode.Parity {
	case OddParity:
		out.Parity = serial.OddParity
	case EvenParity:
		out.Parity = serial.EvenParity
	}
	if mode.StopBits == TwoStopBits {
		out.StopBits = serial.TwoStopBits
	}
	return out
}
