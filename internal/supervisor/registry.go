package supervisor

import (
	"fmt"
	"sort"

	"github.com/nerrad567/gridd/internal/eventloop"
)

// WorkerID identifies one spawned worker for the life of the supervisor.
type WorkerID uint64

// RecordState is a device record's lifecycle position.
type RecordState int

// Record states, in the only order a record moves through them.
const (
	StateSpawned RecordState = iota
	StateInfoKnown
	StateReady
	StateGone
)

func (s RecordState) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateInfoKnown:
		return "info_known"
	case StateReady:
		return "ready"
	case StateGone:
		return "gone"
	}
	return "unknown"
}

// Device is the public view of a ready device.
type Device struct {
	Serial       string `json:"serial"`
	FriendlyName string `json:"friendly_name"`
	Port         int    `json:"port"`
	Devnode      string `json:"devnode"`
}

// record is the supervisor's entry for one live worker.
type record struct {
	id      WorkerID
	devnode string
	child   Child
	source  eventloop.SourceID
	state   RecordState

	serial       string
	friendlyName string
	port         int
}

// advance moves the record forward to s. It never moves backwards.
func (r *record) advance(s RecordState) {
	if s > r.state {
		r.state = s
	}
}

func (r *record) device() Device {
	return Device{
		Serial:       r.serial,
		FriendlyName: r.friendlyName,
		Port:         r.port,
		Devnode:      r.devnode,
	}
}

// registry is the bounded set of live device records.
type registry struct {
	capacity int
	records  map[WorkerID]*record
	nextID   WorkerID
}

func newRegistry(capacity int) *registry {
	return &registry{
		capacity: capacity,
		records:  make(map[WorkerID]*record),
	}
}

// check reports whether a worker for devnode may be added.
func (r *registry) check(devnode string) error {
	if len(r.records) >= r.capacity {
		return fmt.Errorf("%w: %d devices", ErrRegistryFull, r.capacity)
	}
	for _, rec := range r.records {
		if rec.devnode == devnode {
			return fmt.Errorf("%w: %s", ErrDuplicateDevnode, devnode)
		}
	}
	return nil
}

// add creates a Spawned record for a launched worker.
func (r *registry) add(devnode string, child Child) (*record, error) {
	if err := r.check(devnode); err != nil {
		return nil, err
	}
	r.nextID++
	rec := &record{id: r.nextID, devnode: devnode, child: child}
	r.records[rec.id] = rec
	return rec, nil
}

func (r *registry) get(id WorkerID) *record {
	return r.records[id]
}

func (r *registry) remove(id WorkerID) {
	delete(r.records, id)
}

func (r *registry) len() int {
	return len(r.records)
}

// all returns every record in spawn order.
func (r *registry) all() []*record {
	out := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ready returns the devices that may be reported to clients, in spawn order.
func (r *registry) ready() []Device {
	var out []Device
	for _, rec := range r.all() {
		if rec.state == StateReady {
			out = append(out, rec.device())
		}
	}
	return out
}
