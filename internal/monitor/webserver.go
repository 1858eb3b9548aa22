// Package monitor serves the HTTP interface of the mesh layer service:
// layer listing, live parameter tuning, lethal vertex queries, persist and
// recompute triggers, debug charts and a change event stream.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/banshee-data/meshlayers/internal/httputil"
	"github.com/banshee-data/meshlayers/internal/mapfile"
	"github.com/banshee-data/meshlayers/internal/meshmap"
	"github.com/banshee-data/meshlayers/internal/timeutil"
)

// WebServer handles the HTTP interface for inspecting and tuning the cost
// layers of a mesh map.
type WebServer struct {
	address string
	server  *http.Server
	meshMap *meshmap.MeshMap
	mapFile *mapfile.MapFile
	clock   timeutil.Clock
}

// WebServerConfig contains configuration options for the web server
type WebServerConfig struct {
	Address string
	MeshMap *meshmap.MeshMap
	// MapFile, when set, mounts the map file admin routes under /debug/.
	MapFile *mapfile.MapFile
	Clock   timeutil.Clock
}

// NewWebServer creates a new web server with the provided configuration
func NewWebServer(config WebServerConfig) (*WebServer, error) {
	if config.MeshMap == nil {
		return nil, fmt.Errorf("web server needs a mesh map")
	}
	ws := &WebServer{
		address: config.Address,
		meshMap: config.MeshMap,
		mapFile: config.MapFile,
		clock:   config.Clock,
	}
	if ws.clock == nil {
		ws.clock = timeutil.RealClock{}
	}

	mux, err := ws.setupRoutes()
	if err != nil {
		return nil, err
	}
	ws.server = &http.Server{
		Addr:    ws.address,
		Handler: mux,
	}
	return ws, nil
}

// Handler returns the server's route multiplexer.
func (ws *WebServer) Handler() http.Handler {
	return ws.server.Handler
}

// Start serves HTTP until ctx is cancelled, then shuts down gracefully.
func (ws *WebServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting HTTP server on %s", ws.address)
		if err := ws.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}
	log.Println("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := ws.server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := ws.server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}

	log.Printf("HTTP server routine stopped")
	return nil
}

// setupRoutes configures the HTTP routes and handlers
func (ws *WebServer) setupRoutes() (*http.ServeMux, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", ws.handleHealth)
	mux.HandleFunc("/api/layers", ws.handleLayers)
	mux.Handle("/api/layers/params", ws.meshMap.Params())
	mux.HandleFunc("/api/layers/lethal", ws.handleLethal)
	mux.HandleFunc("/api/layers/persist", ws.handlePersist)
	mux.HandleFunc("/api/layers/compute", ws.handleCompute)
	mux.HandleFunc("/api/layers/events", ws.handleEvents)
	mux.HandleFunc("/debug/layers/histogram", ws.handleHistogram)

	if ws.mapFile != nil {
		if err := ws.mapFile.AttachAdminRoutes(mux); err != nil {
			return nil, fmt.Errorf("failed to attach map file admin routes: %w", err)
		}
	}
	return mux, nil
}

func (ws *WebServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]any{
		"status":    "ok",
		"service":   "meshlayers",
		"layers":    len(ws.meshMap.Layers()),
		"vertices":  ws.meshMap.Mesh().NumVertices(),
		"timestamp": ws.clock.Now().UTC().Format(time.RFC3339),
	})
}

// handleLayers returns the loaded layers in load order.
func (ws *WebServer) handleLayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, ws.meshMap.Layers())
}

// layerParam reads the required layer query parameter, writing a 400 when it
// is missing.
func layerParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("layer")
	if name == "" {
		httputil.BadRequest(w, "missing 'layer' parameter")
		return "", false
	}
	return name, true
}

func writeLayerError(w http.ResponseWriter, name string, err error) {
	if errors.Is(err, meshmap.ErrNoSuchLayer) {
		httputil.NotFound(w, fmt.Sprintf("no layer '%s'", name))
		return
	}
	httputil.InternalServerError(w, err.Error())
}

// handleLethal returns the lethal vertices of a layer.
// Query params:
//
//	layer (required)
func (ws *WebServer) handleLethal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	name, ok := layerParam(w, r)
	if !ok {
		return
	}
	vertices, err := ws.meshMap.LethalVertices(name)
	if err != nil {
		writeLayerError(w, name, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"layer":    name,
		"count":    len(vertices),
		"vertices": vertices,
	})
}

// handlePersist writes a layer to the map file.
// Query params:
//
//	layer (required)
func (ws *WebServer) handlePersist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	name, ok := layerParam(w, r)
	if !ok {
		return
	}
	if err := ws.meshMap.WriteLayer(name); err != nil {
		writeLayerError(w, name, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "persisted", "layer": name})
}

// handleCompute recomputes a layer from the mesh, writes it and recombines
// the vertex costs.
// Query params:
//
//	layer (required)
func (ws *WebServer) handleCompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	name, ok := layerParam(w, r)
	if !ok {
		return
	}
	start := ws.clock.Now()
	if err := ws.meshMap.ComputeLayer(name); err != nil {
		writeLayerError(w, name, err)
		return
	}
	info, err := ws.meshMap.LayerInfo(name)
	if err != nil {
		writeLayerError(w, name, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"layer":      info,
		"elapsed_ms": ws.clock.Since(start).Milliseconds(),
	})
}
