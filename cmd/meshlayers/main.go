// Command meshlayers computes the cost layers of a terrain mesh, stores them
// in a map file and serves an HTTP interface for inspecting and retuning the
// layers at runtime.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/meshlayers/internal/config"
	"github.com/banshee-data/meshlayers/internal/mapfile"
	"github.com/banshee-data/meshlayers/internal/mesh"
	"github.com/banshee-data/meshlayers/internal/meshmap"
	"github.com/banshee-data/meshlayers/internal/monitor"
	"github.com/banshee-data/meshlayers/internal/security"
	"github.com/banshee-data/meshlayers/internal/terrain"
	"github.com/banshee-data/meshlayers/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the layer configuration JSON (default: built-in defaults)")
	mapPath     = flag.String("map", "map.db", "Path to the map file")
	meshPath    = flag.String("mesh", "", "Wavefront OBJ mesh to load into the map file")
	synthetic   = flag.Int("synthetic", 0, "Generate a synthetic NxN perlin terrain instead of loading a mesh")
	seed        = flag.Int64("seed", 1, "Seed for -synthetic terrain")
	listen      = flag.String("listen", ":8090", "HTTP listen address (empty disables the server)")
	recompute   = flag.Bool("recompute", false, "Recompute every layer even if the map file has it")
	plotDir     = flag.String("plot-dir", "", "Write a cost histogram PNG per layer to this directory")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *meshPath != "" && *synthetic > 0 {
		log.Fatal("-mesh and -synthetic are mutually exclusive")
	}
	log.Print(version.String())

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	mf, err := mapfile.Open(*mapPath)
	if err != nil {
		log.Fatalf("Failed to open map file: %v", err)
	}
	defer mf.Close()

	m, replaced, err := loadMesh(mf)
	if err != nil {
		log.Fatalf("Failed to load mesh: %v", err)
	}
	if replaced {
		// Stored layers belong to the previous mesh.
		*recompute = true
	}
	log.Printf("Mesh has %d vertices and %d faces", m.NumVertices(), m.NumFaces())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mm, err := meshmap.New(meshmap.Options{Config: cfg, Mesh: m, Store: mf})
	if err != nil {
		log.Fatalf("Failed to create mesh map: %v", err)
	}
	defer mm.Close()
	mm.SetContext(ctx)

	if err := mm.LoadLayerPlugins(); err != nil {
		log.Fatalf("Failed to load layers: %v", err)
	}
	if err := mm.ReadOrComputeLayers(*recompute); err != nil {
		log.Fatalf("Failed to prepare layers: %v", err)
	}
	for _, info := range mm.Layers() {
		log.Printf("Layer %s (%s): %d vertices, %d lethal, threshold %g",
			info.Name, info.Type, info.Vertices, info.Lethals, info.Threshold)
	}

	if *plotDir != "" {
		if err := writePlots(mm, *plotDir); err != nil {
			log.Printf("Failed to write plots: %v", err)
		}
	}

	if *listen == "" {
		return
	}
	ws, err := monitor.NewWebServer(monitor.WebServerConfig{
		Address: *listen,
		MeshMap: mm,
		MapFile: mf,
	})
	if err != nil {
		log.Fatalf("Failed to create web server: %v", err)
	}
	if err := ws.Start(ctx); err != nil {
		log.Printf("HTTP server error: %v", err)
	}
	log.Print("Graceful shutdown complete")
}

// loadMesh returns the mesh named on the command line, saving it to the map
// file, or the mesh already stored in the map file. replaced reports whether
// a stored mesh was overwritten.
func loadMesh(mf *mapfile.MapFile) (m *mesh.Mesh, replaced bool, err error) {
	stored, err := mf.LoadMesh()
	if err != nil {
		return nil, false, err
	}

	switch {
	case *meshPath != "":
		m, err = mesh.LoadOBJ(*meshPath)
	case *synthetic > 0:
		m, err = terrain.New(*seed).Mesh(*synthetic, terrain.DefaultSpacing)
	case stored != nil:
		return stored, false, nil
	default:
		return nil, false, errors.New("map file has no mesh; use -mesh or -synthetic")
	}
	if err != nil {
		return nil, false, err
	}

	if err := mf.SaveMesh(m); err != nil {
		return nil, false, fmt.Errorf("failed to save mesh: %w", err)
	}
	return m, stored != nil, nil
}

func writePlots(mm *meshmap.MeshMap, dir string) error {
	for _, info := range mm.Layers() {
		path := filepath.Join(dir, security.SanitizeFilename(info.Name)+"_costs.png")
		if err := security.ValidateExportPath(path); err != nil {
			return err
		}
		if err := monitor.WriteHistogramPNG(path, mm, info.Name); err != nil {
			return err
		}
	}
	return nil
}
