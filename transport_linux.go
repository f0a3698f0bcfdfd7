//go:build linux

package cereal

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// rawTransport talks to the device through termios directly, bypassing any
// serial library. The fd stays in non-blocking mode so ReadAvailable never
// stalls the acquisition loop; when nothing is pending the read returns
// EAGAIN, which maps to an empty chunk.
type rawTransport struct {
	fd   int
	file *os.File
	buf  [readChunk]byte
}

// OpenRaw opens device with the termios transport and returns a buffering
// Port around it. Linux only.
func OpenRaw(cfg Config) (*Port, error) {
	tr, err := openRawTransport(cfg.Device, cfg.Mode)
	if err != nil {
		return nil, err
	}
	return OpenTransport(tr, cfg), nil
}

func openRawTransport(device string, mode Mode) (*rawTransport, error) {
	fd, err := syscall.Open(device, syscall.O_RDWR|syscall.O_NOCTTY|syscall.O_NONBLOCK, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", device, err)
	}
	t := &rawTransport{fd: fd, file: os.NewFile(uintptr(fd), device)}
	if err := t.SetMode(mode); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// SetMode puts the line in raw mode and applies baud, data bits, parity and
// stop bits. VMIN/VTIME are zeroed; the non-blocking fd governs read timing.
func (t *rawTransport) SetMode(mode Mode) error {
	termios, err := unix.IoctlGetTermios(t.fd, unix.TCGETS)
	if err != nil {
		return fmt.Errorf("get termios: %w", err)
	}

	// Raw mode
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag |= unix.CREAD | unix.CLOCAL

	termios.Cflag &^= unix.CSIZE
	if mode.DataBits == 7 {
		termios.Cflag |= unix.CS7
	} else {
		termios.Cflag |= unix.CS8
	}

	termios.Cflag &^= unix.PARENB | unix.PARODD
	switch mode.Parity {
	case OddParity:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case EvenParity:
		termios.Cflag |= unix.PARENB
	}

	if mode.StopBits == TwoStopBits {
		termios.Cflag |= unix.CSTOPB
	} else {
		termios.Cflag &^= unix.CSTOPB
	}

	termios.Cflag &^= unix.CBAUD
	termios.Cflag |= baudBits(mode.BaudRate)

	termios.Cc[unix.VMIN] = 0
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(t.fd, unix.TCSETS, termios); err != nil {
		return fmt.Errorf("set termios: %w", err)
	}
	return nil
}

func (t *rawTransport) ReadAvailable() ([]byte, error) {
	n, err := unix.Read(t.fd, t.buf[:])
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]byte, n)
	copy(out, t.buf[:n])
	return out, nil
}

func (t *rawTransport) Write(p []byte) (int, error) {
	return t.file.Write(p)
}

func (t *rawTransport) Drain() error {
	return unix.IoctlSetInt(t.fd, unix.TCSBRK, 1)
}

func (t *rawTransport) ResetInput() error {
	return unix.IoctlSetInt(t.fd, unix.TCFLSH, unix.TCIFLUSH)
}

func (t *rawTransport) ResetOutput() error {
	return unix.IoctlSetInt(t.fd, unix.TCFLSH, unix.TCOFLUSH)
}

func (t *rawTransport) SetRTS(level bool) error {
	return t.setModemBit(unix.TIOCM_RTS, level)
}

func (t *rawTransport) SetDTR(level bool) error {
	return t.setModemBit(unix.TIOCM_DTR, level)
}

func (t *rawTransport) setModemBit(bit int, level bool) error {
	req := uint(unix.TIOCMBIC)
	if level {
		req = unix.TIOCMBIS
	}
	return unix.IoctlSetPointerInt(t.fd, req, bit)
}

func (t *rawTransport) Break(d time.Duration) error {
	if err := unix.IoctlSetInt(t.fd, unix.TIOCSBRK, 0); err != nil {
		return err
	}
	time.Sleep(d)
	return unix.IoctlSetInt(t.fd, unix.TIOCCBRK, 0)
}

func (t *rawTransport) ModemStatus() (ModemStatus, error) {
	bits, err := unix.IoctlGetInt(t.fd, unix.TIOCMGET)
	if err != nil {
		return ModemStatus{}, err
	}
	return ModemStatus{
		CTS: bits&unix.TIOCM_CTS != 0,
		DSR: bits&unix.TIOCM_DSR != 0,
		RI:  bits&unix.TIOCM_RI != 0,
		DCD: bits&unix.TIOCM_CD != 0,
	}, nil
}

func (t *rawTransport) Close() error {
	return t.file.Close()
}

func baudBits(baud int) uint32 {
	switch baud {
	case 1200:
		return unix.B1200
	case 2400:
		return unix.B2400
	case 4800:
		return unix.B4800
	case 9600:
		return unix.B9600
	case 19200:
		return unix.B19200
	case 38400:
		return unix.B38400
	case 57600:
		return unix.B57600
	case 115200:
		return unix.B115200
	case 230400:
		return unix.B230400
	case 460800:
		return unix.B460800
	case 921600:
		return unix.B921600
	default:
		return unix.B9600 // fallback
	}
}
