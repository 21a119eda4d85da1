package driver

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"stepramp/host/serial"
	"stepramp/motion"
	"stepramp/protocol"
)

// DefaultQueueSize is the link's frame queue size in bytes
const DefaultQueueSize = 4096

var ErrLinkClosed = errors.New("step link is closed")

// LinkConfig configures a Link
type LinkConfig struct {
	QueueSize int
	Logger    logrus.FieldLogger
}

// Link sends step link frames to a bridge board over a serial port. Frames
// are queued without blocking and written by a background goroutine; frames
// that do not fit are dropped and counted as overruns.
type Link struct {
	port  serial.Port
	log   logrus.FieldLogger
	queue *protocol.FrameQueue

	mu      sync.Mutex // guards enc and scratch
	enc     *protocol.Encoder
	scratch [protocol.FrameMax]byte

	overruns atomic.Uint64
	sent     atomic.Uint64

	errMu    sync.Mutex
	writeErr error

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// OpenLink starts a link on port. The link owns the port.
func OpenLink(port serial.Port, cfg LinkConfig) *Link {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	l := &Link{
		port:  port,
		log:   log.WithField("driver", "serial"),
		queue: protocol.NewFrameQueue(cfg.QueueSize),
		enc:   protocol.NewEncoder(),
		done:  make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writer()
	return l
}

// Backend returns the driver for axis on this link
func (l *Link) Backend(axis uint8) *SerialBackend {
	return &SerialBackend{link: l, axis: axis}
}

// Overruns is the number of frames dropped because the queue was full
func (l *Link) Overruns() uint64 {
	return l.overruns.Load()
}

// Sent is the number of bytes written to the port
func (l *Link) Sent() uint64 {
	return l.sent.Load()
}

// Err returns the first write error, if any
func (l *Link) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.writeErr
}

func (l *Link) send(m protocol.Message) {
	select {
	case <-l.done:
		l.overruns.Add(1)
		return
	default:
	}

	l.mu.Lock()
	frame, err := l.enc.AppendFrame(l.scratch[:0], m)
	if err == nil && !l.queue.Push(frame) {
		err = protocol.ErrFrameTooLong
	}
	l.mu.Unlock()

	if err != nil {
		l.overruns.Add(1)
	}
}

func (l *Link) writer() {
	defer l.wg.Done()

	for {
		select {
		case <-l.queue.Ready():
			l.flush()
		case <-l.done:
			l.flush()
			return
		}
	}
}

func (l *Link) flush() {
	var buf [256]byte
	for {
		n := l.queue.Pop(buf[:])
		if n == 0 {
			return
		}
		if _, err := l.port.Write(buf[:n]); err != nil {
			l.setErr(err)
			continue
		}
		l.sent.Add(uint64(n))
	}
}

func (l *Link) setErr(err error) {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	if l.writeErr == nil {
		l.writeErr = errors.Wrap(err, "step link write")
		l.log.WithError(err).Warn("step link write failed")
	}
}

// Close flushes queued frames and closes the port. Later sends count as
// overruns.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		l.closeErr = multierr.Combine(l.Err(), l.port.Close())
	})
	return l.closeErr
}

// SerialBackend drives one axis of a Link
type SerialBackend struct {
	link *Link
	axis uint8
}

func (b *SerialBackend) Step() {
	b.link.send(protocol.Message{ID: protocol.MsgStep, Axis: b.axis})
}

func (b *SerialBackend) SetDirection(dir motion.Direction) {
	b.link.send(protocol.Message{ID: protocol.MsgSetDir, Axis: b.axis, Value: int32(dir)})
}

func (b *SerialBackend) Event(ev motion.Event) {
	b.link.send(protocol.Message{ID: protocol.MsgEvent, Axis: b.axis, Value: int32(ev)})
}

// Axis returns the axis number on the link
func (b *SerialBackend) Axis() uint8 {
	return b.axis
}

func (b *SerialBackend) Info() Info {
	return Info{
		Name:          "serial",
		MaxStepRate:   3500, // 7 byte step frames at 250000 baud
		TypicalJitter: 50000,
	}
}

// Close is a no-op; the link is closed by its owner.
func (b *SerialBackend) Close() error {
	return nil
}
