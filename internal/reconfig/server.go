// Package reconfig delivers live parameter updates to cost layers.
//
// A Server holds the current parameter snapshot of one layer and forwards
// every new snapshot to the layer's callback. Servers register with a Mux,
// which exposes them over HTTP so operators can retune layers at runtime.
package reconfig

import (
	"fmt"
	"sync"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.Config{
	EscapeHTML:            true,
	SortMapKeys:           true,
	DisallowUnknownFields: true,
}.Froze()

// Validator is implemented by parameter types that can reject values.
type Validator interface {
	Validate() error
}

// Endpoint is the type-erased view of a Server used by the Mux.
type Endpoint interface {
	// Snapshot returns the current parameters.
	Snapshot() any
	// Apply merges a partial JSON document onto the current parameters and
	// delivers the result.
	Apply(raw []byte) error
}

// Server holds the current parameters of type T and delivers updates to a
// single callback.
type Server[T any] struct {
	// updateMu serialises Update so callbacks observe snapshots in order.
	updateMu sync.Mutex

	mu       sync.Mutex
	current  T
	callback func(T)

	// locker, when set, is held while an update is delivered.
	locker sync.Locker
}

// NewServer returns a server whose current parameters are initial.
// If locker is non-nil it is held around every delivery triggered by
// Update or Apply, letting the owner of the callback serialise parameter
// changes with its other operations.
func NewServer[T any](initial T, locker sync.Locker) *Server[T] {
	return &Server[T]{current: initial, locker: locker}
}

// SetCallback installs cb, replacing any previous callback, and immediately
// delivers the current parameters to it on the calling goroutine. The locker
// is not taken for this first delivery; callers that hold it may call
// SetCallback.
func (s *Server[T]) SetCallback(cb func(T)) {
	s.mu.Lock()
	s.callback = cb
	cur := s.current
	s.mu.Unlock()

	if cb != nil {
		cb(cur)
	}
}

// ClearCallback removes the callback. Later updates are stored but not
// delivered.
func (s *Server[T]) ClearCallback() {
	s.mu.Lock()
	s.callback = nil
	s.mu.Unlock()
}

// Current returns the current parameters.
func (s *Server[T]) Current() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Snapshot implements Endpoint.
func (s *Server[T]) Snapshot() any {
	return s.Current()
}

// Update validates cfg, makes it current and delivers it to the callback.
func (s *Server[T]) Update(cfg T) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()
	return s.update(cfg)
}

// update requires updateMu.
func (s *Server[T]) update(cfg T) error {
	if v, ok := any(cfg).(Validator); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid parameters: %w", err)
		}
	}

	s.mu.Lock()
	s.current = cfg
	cb := s.callback
	s.mu.Unlock()

	if cb == nil {
		return nil
	}
	if s.locker != nil {
		s.locker.Lock()
		defer s.locker.Unlock()
	}
	cb(cfg)
	return nil
}

// Apply implements Endpoint. Fields absent from raw keep their current
// values; unknown fields are rejected. Concurrent calls merge in turn.
func (s *Server[T]) Apply(raw []byte) error {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	cfg := s.Current()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("decode parameters: %w", err)
	}
	return s.update(cfg)
}
