// Package registry maps (protocol version, state, packet id) to named packet
// handlers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/energizer-project/blockgate/internal/protocol"
)

var (
	// ErrUnknownProtocol is returned for a version with no registered packets.
	ErrUnknownProtocol = errors.New("unknown protocol version")

	// ErrUnknownPacket is returned for an id or name not registered for the
	// version and state.
	ErrUnknownPacket = errors.New("unknown packet")

	// ErrDuplicate is returned when an id or name is registered twice.
	ErrDuplicate = errors.New("duplicate packet registration")
)

// Handler processes one decoded packet body for target.
type Handler[T any] func(ctx context.Context, target T, body *protocol.Reader) (protocol.Response, error)

// Named pairs a packet name with its handler for sequential registration.
type Named[T any] struct {
	Name    string
	Handler Handler[T]
}

type entry[T any] struct {
	name    string
	handler Handler[T]
}

type table[T any] struct {
	byID   map[int32]entry[T]
	byName map[string]int32
}

// Registry is a concurrent-read-safe packet table. It is populated at
// startup and only read afterwards.
type Registry[T any] struct {
	mu       sync.RWMutex
	versions map[protocol.Version]map[protocol.State]*table[T]
}

// New creates an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		versions: make(map[protocol.Version]map[protocol.State]*table[T]),
	}
}

func (r *Registry[T]) tableFor(version protocol.Version, state protocol.State) *table[T] {
	states, ok := r.versions[version]
	if !ok {
		states = make(map[protocol.State]*table[T])
		r.versions[version] = states
	}
	t, ok := states[state]
	if !ok {
		t = &table[T]{
			byID:   make(map[int32]entry[T]),
			byName: make(map[string]int32),
		}
		states[state] = t
	}
	return t
}

// Register adds one packet. Ids and names must be unique within a version and
// state.
func (r *Registry[T]) Register(version protocol.Version, state protocol.State, id int32, name string, handler Handler[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.register(version, state, id, name, handler)
}

func (r *Registry[T]) register(version protocol.Version, state protocol.State, id int32, name string, handler Handler[T]) error {
	t := r.tableFor(version, state)
	if existing, ok := t.byID[id]; ok {
		return fmt.Errorf("%w: %s id 0x%02X already bound to %q (version %d)", ErrDuplicate, state, id, existing.name, version)
	}
	if existing, ok := t.byName[name]; ok {
		return fmt.Errorf("%w: %s name %q already bound to 0x%02X (version %d)", ErrDuplicate, state, name, existing, version)
	}
	t.byID[id] = entry[T]{name: name, handler: handler}
	t.byName[name] = id
	return nil
}

// RegisterSequence registers packets with ids 0, 1, 2, ... in order.
func (r *Registry[T]) RegisterSequence(version protocol.Version, state protocol.State, packets []Named[T]) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range packets {
		if err := r.register(version, state, int32(i), p.Name, p.Handler); err != nil {
			return err
		}
	}
	return nil
}

// Unregister removes every packet of a version.
func (r *Registry[T]) Unregister(version protocol.Version) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.versions, version)
}

func (r *Registry[T]) lookupTable(version protocol.Version, state protocol.State) (*table[T], error) {
	states, ok := r.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProtocol, version)
	}
	t, ok := states[state]
	if !ok {
		return nil, fmt.Errorf("%w: no %s packets for version %d", ErrUnknownPacket, state, version)
	}
	return t, nil
}

// Lookup returns the name and handler bound to an id.
func (r *Registry[T]) Lookup(version protocol.Version, state protocol.State, id int32) (string, Handler[T], error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.lookupTable(version, state)
	if err != nil {
		return "", nil, err
	}
	e, ok := t.byID[id]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s id 0x%02X (version %d)", ErrUnknownPacket, state, id, version)
	}
	return e.name, e.handler, nil
}

// NameOf returns the name bound to an id.
func (r *Registry[T]) NameOf(version protocol.Version, state protocol.State, id int32) (string, error) {
	name, _, err := r.Lookup(version, state, id)
	return name, err
}

// IDOf returns the id bound to a name.
func (r *Registry[T]) IDOf(version protocol.Version, state protocol.State, name string) (int32, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, err := r.lookupTable(version, state)
	if err != nil {
		return 0, err
	}
	id, ok := t.byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s %q (version %d)", ErrUnknownPacket, state, name, version)
	}
	return id, nil
}

// HasID reports whether an id is registered.
func (r *Registry[T]) HasID(version protocol.Version, state protocol.State, id int32) bool {
	_, _, err := r.Lookup(version, state, id)
	return err == nil
}

// HasName reports whether a name is registered.
func (r *Registry[T]) HasName(version protocol.Version, state protocol.State, name string) bool {
	_, err := r.IDOf(version, state, name)
	return err == nil
}

// Supports reports whether any packet is registered for the version.
func (r *Registry[T]) Supports(version protocol.Version) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.versions[version]
	return ok
}

// Versions returns every registered version in ascending order.
func (r *Registry[T]) Versions() []protocol.Version {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]protocol.Version, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dispatch looks up an id and invokes its handler. A packet registered
// without a handler produces an empty Response.
func (r *Registry[T]) Dispatch(ctx context.Context, version protocol.Version, state protocol.State, id int32, target T, body *protocol.Reader) (protocol.Response, error) {
	_, handler, err := r.Lookup(version, state, id)
	if err != nil {
		return protocol.Response{}, err
	}
	if handler == nil {
		return protocol.Empty(), nil
	}
	return handler(ctx, target, body)
}
