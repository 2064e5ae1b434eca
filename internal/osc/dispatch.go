package osc

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// ErrNoMethod is returned when no handler matches a message.
var ErrNoMethod = errors.New("osc: no method")

// AnyTypes matches any argument list when used as a handler's type tags.
const AnyTypes = "*"

// HandlerFunc handles one message. from is the sender's address.
type HandlerFunc func(msg *Message, from net.Addr) error

type method struct {
	types   string
	handler HandlerFunc
}

// Dispatcher routes messages to handlers by exact address and type tags.
type Dispatcher struct {
	mu      sync.RWMutex
	methods map[string][]method
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{methods: make(map[string][]method)}
}

// Handle registers h for address with the given type tags ("" for no
// arguments, AnyTypes for anything). Several handlers may share an address
// with different type tags.
func (d *Dispatcher) Handle(address, types string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.methods[address] = append(d.methods[address], method{types: types, handler: h})
}

// Unhandle removes every handler registered for address.
func (d *Dispatcher) Unhandle(address string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.methods, address)
}

// Dispatch runs every handler whose address and type tags match msg. It
// returns ErrNoMethod if none matched, otherwise the first handler error.
func (d *Dispatcher) Dispatch(msg *Message, from net.Addr) error {
	d.mu.RLock()
	candidates := d.methods[msg.Address]
	d.mu.RUnlock()

	tags := msg.TypeTags()
	matched := false
	var firstErr error
	for _, m := range candidates {
		if m.types != AnyTypes && m.types != tags {
			continue
		}
		matched = true
		if err := m.handler(msg, from); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%s %s: %w", msg.Address, tags, err)
		}
	}

	if !matched {
		return fmt.Errorf("%w: %s ,%s", ErrNoMethod, msg.Address, tags)
	}
	return firstErr
}
