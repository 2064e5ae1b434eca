package supervisor

import (
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a client address that asked to be notified.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// subscribers is the one-shot notification set. Every delivery empties
// it; a client that wants the next event subscribes again.
type subscribers struct {
	capacity  int
	endpoints []Endpoint
}

func newSubscribers(capacity int) *subscribers {
	return &subscribers{capacity: capacity}
}

func (s *subscribers) subscribe(ep Endpoint) error {
	if len(s.endpoints) >= s.capacity {
		return fmt.Errorf("%w: %d waiting", ErrSubscribersFull, s.capacity)
	}
	s.endpoints = append(s.endpoints, ep)
	return nil
}

// take returns every endpoint and clears the set.
func (s *subscribers) take() []Endpoint {
	eps := s.endpoints
	s.endpoints = nil
	return eps
}

func (s *subscribers) len() int {
	return len(s.endpoints)
}
