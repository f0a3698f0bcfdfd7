package cereal

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrClosed is returned by operations on a Port after Close.
var ErrClosed = errors.New("cereal: port closed")

// DefaultPollInterval is the sleep quantum between acquisition loop
// iterations. It is also the precision floor for read timeouts on transports
// that short-block for one quantum per read.
const DefaultPollInterval = 10 * time.Millisecond

// Config holds configuration parameters for opening a buffered port.
type Config struct {
	Device string
	Mode   Mode

	// Timeout is the initial read timeout. Negative blocks until the
	// requested bytes arrive, zero returns whatever is already buffered,
	// positive waits at most that long. Adjustable later via SetTimeout.
	Timeout time.Duration

	// PollInterval overrides DefaultPollInterval for the acquisition loop.
	PollInterval time.Duration
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval > 0 {
		return c.PollInterval
	}
	return DefaultPollInterval
}

type lifecycle int

const (
	stateRunning lifecycle = iota
	stateStopped
)

// Port is a serial port whose receive side is continuously drained into an
// unbounded in-memory buffer by a background goroutine, so no byte is lost to
// the kernel's fixed receive buffer no matter how slowly the caller reads.
// Read semantics mirror a plain blocking serial read.
//
// At most one goroutine should call Read/ReadLine at a time; Write may be
// called concurrently with reads and with other writes.
type Port struct {
	cfg Config
	tr  Transport
	buf *buffer

	tmu sync.Mutex // serializes transport input/config access against the loop's read step
	wmu sync.Mutex // serializes writers on the transport output side

	mu      sync.Mutex
	timeout time.Duration
	state   lifecycle
	err     error // latched acquisition failure

	done      chan struct{} // closed to stop the loop
	loopDone  chan struct{} // closed when the loop has exited
	closeOnce sync.Once
}

// Open opens the device named in cfg and starts the acquisition loop.
func Open(cfg Config) (*Port, error) {
	tr, err := openTransport(cfg.Device, cfg.Mode, cfg.pollInterval())
	if err != nil {
		return nil, err
	}
	return OpenTransport(tr, cfg), nil
}

// OpenTransport wraps an already-open Transport and starts the acquisition
// loop. The Port takes ownership of tr and closes it on Close.
func OpenTransport(tr Transport, cfg Config) *Port {
	p := &Port{
		cfg:      cfg,
		tr:       tr,
		buf:      newBuffer(),
		timeout:  cfg.Timeout,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go p.acquire()
	return p
}

// acquire drains the transport into the buffer until stopped or the transport
// fails. It is the sole appender to the buffer.
func (p *Port) acquire() {
	defer close(p.loopDone)
	interval := p.cfg.pollInterval()
	for {
		select {
		case <-p.done:
			return
		default:
		}

		// Append under tmu so FlushInput cannot race a chunk read before
		// the flush into the buffer after it.
		p.tmu.Lock()
		chunk, err := p.tr.ReadAvailable()
		if err == nil && len(chunk) > 0 {
			p.buf.append(chunk)
		}
		p.tmu.Unlock()

		if err != nil {
			p.fail(err)
			return
		}
		if len(chunk) > 0 {
			trace("cereal: buffered", len(chunk), "bytes")
		}

		select {
		case <-p.done:
			return
		case <-time.After(interval):
		}
	}
}

// fail latches a transport failure discovered by the loop. The error is
// surfaced on the next facade call, never raised asynchronously.
func (p *Port) fail(err error) {
	p.mu.Lock()
	if p.state == stateRunning {
		p.state = stateStopped
		p.err = fmt.Errorf("cereal: port unavailable: %w", err)
	}
	p.mu.Unlock()
	trace("cereal: acquisition stopped:", err)
}

// runErr reports the latched failure or closed condition, nil while running.
func (p *Port) runErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.state != stateRunning {
		return ErrClosed
	}
	return nil
}

// Read returns up to n bytes from the buffer. It waits, according to the
// timeout in effect when the call started, until n bytes are buffered;
// on timeout it returns whatever is buffered, possibly nothing. A nil error
// with a short result therefore means timeout, matching a plain serial read.
// Changing the timeout has no effect on a Read already in progress.
func (p *Port) Read(n int) ([]byte, error) {
	if n <= 0 {
		return nil, p.runErr()
	}
	timeout := p.Timeout()
	// Bytes already buffered are delivered even after the port stops;
	// nothing appended is ever dropped.
	if p.buf.len() >= n {
		return p.buf.consume(n), nil
	}
	if err := p.runErr(); err != nil {
		if b := p.buf.consume(n); len(b) > 0 {
			return b, nil
		}
		return nil, err
	}
	if timeout == 0 {
		return p.buf.consume(n), nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-p.buf.wakeup():
			if p.buf.len() >= n {
				return p.buf.consume(n), nil
			}
		case <-deadline:
			return p.buf.consume(n), nil
		case <-p.loopDone:
			// Port closed or acquisition failed while waiting. Hand back
			// what already arrived before reporting the condition.
			if b := p.buf.consume(n); len(b) > 0 {
				return b, nil
			}
			return nil, p.runErr()
		}
	}
}

// ReadLine reads and returns one line terminated by eol, delimiter included.
// A nil eol means "\n". On timeout it returns nothing and leaves any partial
// line buffered for a later call.
func (p *Port) ReadLine(eol []byte) ([]byte, error) {
	if len(eol) == 0 {
		eol = []byte("\n")
	}
	timeout := p.Timeout()
	if idx := p.buf.index(eol); idx >= 0 {
		return p.buf.consume(idx + len(eol)), nil
	}
	if err := p.runErr(); err != nil {
		return nil, err
	}
	if timeout == 0 {
		return nil, nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		select {
		case <-p.buf.wakeup():
			if idx := p.buf.index(eol); idx >= 0 {
				return p.buf.consume(idx + len(eol)), nil
			}
		case <-deadline:
			return nil, nil
		case <-p.loopDone:
			return nil, p.runErr()
		}
	}
}

// Write sends b to the transport immediately, bypassing the buffer. Writes
// from multiple goroutines are serialized here; transport errors propagate
// without retry.
func (p *Port) Write(b []byte) (int, error) {
	if err := p.runErr(); err != nil {
		return 0, err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	n, err := p.tr.Write(b)
	if err != nil {
		return n, fmt.Errorf("cereal: write: %w", err)
	}
	return n, nil
}

// InWaiting returns the number of bytes held in the receive buffer. This is
// the buffered count, not the raw driver count, which the acquisition loop
// keeps near zero.
func (p *Port) InWaiting() int {
	return p.buf.len()
}

// Timeout returns the current read timeout.
func (p *Port) Timeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.timeout
}

// SetTimeout changes the read timeout for subsequent Read/ReadLine calls.
func (p *Port) SetTimeout(d time.Duration) {
	p.mu.Lock()
	p.timeout = d
	p.mu.Unlock()
}

// Flush blocks until the transport has transmitted all written data.
func (p *Port) Flush() error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.tr.Drain()
}

// FlushInput discards everything in the receive buffer and the transport's
// own input queue.
func (p *Port) FlushInput() error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.tmu.Lock()
	defer p.tmu.Unlock()
	err := p.tr.ResetInput()
	p.buf.reset()
	return err
}

// FlushOutput discards data written to the transport but not yet transmitted.
func (p *Port) FlushOutput() error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.tr.ResetOutput()
}

// SetMode reconfigures the line parameters. The change is synchronized
// against the acquisition loop's transport read step.
func (p *Port) SetMode(mode Mode) error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	p.tmu.Lock()
	defer p.tmu.Unlock()
	return p.tr.SetMode(mode)
}

// SendBreak holds the transmit line in break condition for d, or 250ms if
// d is zero.
func (p *Port) SendBreak(d time.Duration) error {
	if err := p.runErr(); err != nil {
		return err
	}
	if d <= 0 {
		d = 250 * time.Millisecond
	}
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.tr.Break(d)
}

// SetRTS sets the Request To Send line.
func (p *Port) SetRTS(level bool) error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.tmu.Lock()
	defer p.tmu.Unlock()
	return p.tr.SetRTS(level)
}

// SetDTR sets the Data Terminal Ready line.
func (p *Port) SetDTR(level bool) error {
	if err := p.runErr(); err != nil {
		return err
	}
	p.tmu.Lock()
	defer p.tmu.Unlock()
	return p.tr.SetDTR(level)
}

// ModemStatus returns the state of the CTS, DSR, RI and DCD lines.
func (p *Port) ModemStatus() (ModemStatus, error) {
	if err := p.runErr(); err != nil {
		return ModemStatus{}, err
	}
	p.tmu.Lock()
	defer p.tmu.Unlock()
	return p.tr.ModemStatus()
}

// Raw returns the underlying Transport for operations this surface does not
// expose. Reading from it while the Port is open steals bytes from the
// acquisition loop and voids the no-loss guarantee; use it for control
// operations only.
func (p *Port) Raw() Transport {
	return p.tr
}

// Close stops the acquisition loop, waits for its current iteration to
// finish, then closes the transport. It unblocks any waiting Read. Safe to
// call multiple times; subsequent calls are no-ops.
func (p *Port) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		if p.state == stateRunning {
			p.state = stateStopped
		}
		p.mu.Unlock()
		close(p.done)
		<-p.loopDone
		err = p.tr.Close()
	})
	return err
}
