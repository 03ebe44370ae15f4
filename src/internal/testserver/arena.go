// FILE: srpauth/src/internal/testserver/arena.go
package testserver

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lixenwraith/log"
)

var ErrStaleHandle = errors.New("stale or unknown handle")

// Handle refers to an arena slot. A handle outlives its value only as a
// stale reference: the slot generation changes on removal.
type Handle struct {
	Index      uint32
	Generation uint32
}

func (h Handle) String() string {
	return fmt.Sprintf("%d.%d", h.Index, h.Generation)
}

type slot[T any] struct {
	generation uint32
	value      *T
}

// Arena stores values behind generation-checked handles. Freed slots are
// reused with a bumped generation.
type Arena[T any] struct {
	mu    sync.RWMutex
	slots []slot[T]
	free  []uint32
	live  int
}

func (a *Arena[T]) Insert(v *T) Handle {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.live++
	if n := len(a.free); n > 0 {
		idx := a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].value = v
		return Handle{Index: idx, Generation: a.slots[idx].generation}
	}
	a.slots = append(a.slots, slot[T]{generation: 1, value: v})
	return Handle{Index: uint32(len(a.slots) - 1), Generation: 1}
}

func (a *Arena[T]) Get(h Handle) (*T, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := a.slots[h.Index]
	if s.generation != h.Generation || s.value == nil {
		return nil, false
	}
	return s.value, true
}

// Remove frees the slot. Any copy of h becomes stale.
func (a *Arena[T]) Remove(h Handle) (*T, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if int(h.Index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.Index]
	if s.generation != h.Generation || s.value == nil {
		return nil, false
	}
	v := s.value
	s.value = nil
	s.generation++
	a.free = append(a.free, h.Index)
	a.live--
	return v, true
}

func (a *Arena[T]) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.live
}

// Handles lists the live handles.
func (a *Arena[T]) Handles() []Handle {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Handle, 0, a.live)
	for i, s := range a.slots {
		if s.value != nil {
			out = append(out, Handle{Index: uint32(i), Generation: s.generation})
		}
	}
	return out
}

// Registry owns running servers addressed by handle.
type Registry struct {
	arena  Arena[Server]
	logger *log.Logger
}

func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewLogger()
	}
	return &Registry{logger: logger}
}

// Spawn creates and starts a server.
func (r *Registry) Spawn(opts Options) (Handle, *Server, error) {
	srv, err := New(opts, r.logger)
	if err != nil {
		return Handle{}, nil, err
	}
	if err := srv.Start(); err != nil {
		return Handle{}, nil, err
	}
	h := r.arena.Insert(srv)
	r.logger.Debug("msg", "Test server registered",
		"component", "testserver",
		"handle", h.String(),
		"url", srv.URL())
	return h, srv, nil
}

func (r *Registry) Lookup(h Handle) (*Server, error) {
	srv, ok := r.arena.Get(h)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	return srv, nil
}

// Close stops the server and invalidates h.
func (r *Registry) Close(h Handle) error {
	srv, ok := r.arena.Remove(h)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStaleHandle, h)
	}
	srv.Stop()
	return nil
}

func (r *Registry) CloseAll() {
	for _, h := range r.arena.Handles() {
		_ = r.Close(h)
	}
}

func (r *Registry) Len() int {
	return r.arena.Len()
}
