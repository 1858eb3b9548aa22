package reconfig

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/banshee-data/meshlayers/internal/httputil"
	"github.com/banshee-data/meshlayers/internal/monitoring"
)

// maxParamsBody caps the size of a POSTed parameter document.
const maxParamsBody = 64 * 1024

// Registrar is the part of a Mux a layer needs to publish its parameters.
type Registrar interface {
	Register(name string, ep Endpoint) error
	Unregister(name string)
}

// Mux routes parameter requests to named endpoints.
type Mux struct {
	mu        sync.RWMutex
	endpoints map[string]Endpoint
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{endpoints: make(map[string]Endpoint)}
}

// Register adds ep under name. Names must be unique.
func (m *Mux) Register(name string, ep Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.endpoints[name]; exists {
		return fmt.Errorf("reconfigure endpoint %q already registered", name)
	}
	m.endpoints[name] = ep
	return nil
}

// Unregister removes the endpoint registered under name, if any.
func (m *Mux) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.endpoints, name)
}

// Lookup returns the endpoint registered under name.
func (m *Mux) Lookup(name string) (Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[name]
	return ep, ok
}

// Names returns the registered endpoint names in sorted order.
func (m *Mux) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.endpoints))
	for name := range m.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServeHTTP handles parameter reads and updates.
// Query params:
//
//	layer (required) - endpoint name
//
// GET returns the current parameters. POST merges the JSON body onto them
// and returns the resulting parameters.
func (m *Mux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("layer")
	if name == "" {
		httputil.BadRequest(w, "missing 'layer' parameter")
		return
	}
	ep, ok := m.Lookup(name)
	if !ok {
		httputil.NotFound(w, fmt.Sprintf("no reconfigurable layer '%s'", name))
		return
	}

	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, ep.Snapshot())
	case http.MethodPost:
		body, err := io.ReadAll(io.LimitReader(r.Body, maxParamsBody+1))
		if err != nil {
			httputil.BadRequest(w, fmt.Sprintf("failed to read body: %v", err))
			return
		}
		if len(body) > maxParamsBody {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "parameter document too large")
			return
		}
		if err := ep.Apply(body); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		monitoring.Logf("[Reconfigure] Applied parameters to layer '%s'", name)
		httputil.WriteJSONOK(w, ep.Snapshot())
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}
