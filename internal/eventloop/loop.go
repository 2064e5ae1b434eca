package eventloop

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const (
	// readBufferSize covers a full UDP datagram and several IPC frames.
	readBufferSize = 65536

	// postQueueSize bounds work queued from other goroutines.
	postQueueSize = 64
)

// ErrStopped is returned by Run when the loop was stopped before it started,
// and by Add once the loop has finished.
var ErrStopped = errors.New("eventloop: stopped")

// SourceID identifies a registered source.
type SourceID uint64

// Event is one readiness notification.
type Event struct {
	Source SourceID

	// Data holds the bytes read. It is owned by the callback.
	Data []byte

	// Addr is the sender of a datagram; nil for stream sources.
	Addr net.Addr

	// Closed reports that the source reached end of stream or failed.
	// No further events follow for this source.
	Closed bool

	// Err is the read error that closed the source, nil on a clean EOF.
	Err error
}

// Callback handles events for one source on the loop goroutine.
type Callback func(Event)

// Logger defines the logging interface for the loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type registration struct {
	id   SourceID
	src  Source
	cb   Callback
	ack  chan struct{}
	quit chan struct{}
	once sync.Once
}

func (r *registration) close() {
	r.once.Do(func() { close(r.quit) })
}

// Loop dispatches readiness events from registered sources.
type Loop struct {
	logger Logger

	mu      sync.Mutex
	sources map[SourceID]*registration
	nextID  SourceID

	ready   chan Event
	posts   chan func()
	stop    chan struct{}
	done    chan struct{}
	stopped sync.Once
	running sync.Once
}

// New creates an idle loop.
func New() *Loop {
	return &Loop{
		logger:  noopLogger{},
		sources: make(map[SourceID]*registration),
		ready:   make(chan Event),
		posts:   make(chan func(), postQueueSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger for the loop.
func (l *Loop) SetLogger(logger Logger) {
	l.logger = logger
}

// Add registers src and starts waiting on it. It may be called from any
// goroutine, including from inside a callback.
func (l *Loop) Add(src Source, cb Callback) (SourceID, error) {
	select {
	case <-l.done:
		return 0, ErrStopped
	default:
	}

	l.mu.Lock()
	l.nextID++
	reg := &registration{
		id:   l.nextID,
		src:  src,
		cb:   cb,
		ack:  make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	l.sources[reg.id] = reg
	l.mu.Unlock()

	go l.read(reg)

	return reg.id, nil
}

// Remove unregisters a source. Events already queued for it are discarded.
// The underlying reader is not closed; a reader blocked in Next stays
// blocked until its owner closes it.
func (l *Loop) Remove(id SourceID) {
	l.mu.Lock()
	reg, ok := l.sources[id]
	delete(l.sources, id)
	l.mu.Unlock()

	if ok {
		reg.close()
	}
}

// Len returns the number of registered sources.
func (l *Loop) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.sources)
}

// read is the per-source reader goroutine.
func (l *Loop) read(reg *registration) {
	buf := make([]byte, readBufferSize)
	for {
		n, addr, err := reg.src.Next(buf)

		ev := Event{Source: reg.id, Addr: addr}
		if n > 0 {
			ev.Data = append([]byte(nil), buf[:n]...)
		}
		if err != nil {
			ev.Closed = true
			if !errors.Is(err, io.EOF) {
				ev.Err = err
			}
		}

		if n == 0 && !ev.Closed {
			continue
		}

		select {
		case l.ready <- ev:
		case <-reg.quit:
			return
		case <-l.done:
			return
		}

		if ev.Closed {
			return
		}

		select {
		case <-reg.ack:
		case <-reg.quit:
			return
		case <-l.done:
			return
		}
	}
}

// Post schedules fn to run on the loop goroutine. It reports false if the
// loop has already finished.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.posts <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Every posts fn at the given interval until the returned cancel function
// is called or the loop finishes.
func (l *Loop) Every(interval time.Duration, fn func()) (cancel func()) {
	quit := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if !l.Post(fn) {
					return
				}
			case <-quit:
				return
			case <-l.done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(quit) }) }
}

// Stop interrupts a running wait. Run returns nil after the callback in
// progress, if any, completes. Stop is safe to call more than once and from
// any goroutine.
func (l *Loop) Stop() {
	l.stopped.Do(func() { close(l.stop) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Run waits for events and dispatches them until Stop is called or ctx is
// cancelled. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.running.Do(func() { started = true })
	if !started {
		return ErrStopped
	}

	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.posts:
			fn()
		case ev := <-l.ready:
			l.dispatch(l.collect(ev))
		}
	}
}

// collect gathers every event that is ready right now. Each source has at
// most one event in flight, so the batch holds each source at most once.
func (l *Loop) collect(first Event) []Event {
	batch := []Event{first}
	for {
		select {
		case ev := <-l.ready:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
}

func (l *Loop) dispatch(batch []Event) {
	for _, ev := range batch {
		l.mu.Lock()
		reg, ok := l.sources[ev.Source]
		if ok && ev.Closed {
			delete(l.sources, ev.Source)
		}
		l.mu.Unlock()

		if !ok {
			continue
		}

		if ev.Closed {
			l.logger.Debug("source closed", "source", ev.Source, "error", ev.Err)
		}

		reg.cb(ev)

		if ev.Closed {
			reg.close()
			continue
		}

		select {
		case reg.ack <- struct{}{}:
		default:
		}
	}
}

func (l *Loop) shutdown() {
	close(l.done)

	l.mu.Lock()
	for id, reg := range l.sources {
		reg.close()
		delete(l.sources, id)
	}
	l.mu.Unlock()
}
