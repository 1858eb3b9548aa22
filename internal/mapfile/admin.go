package mapfile

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/banshee-data/meshlayers/internal/monitoring"
	"github.com/banshee-data/meshlayers/internal/security"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// AttachAdminRoutes mounts map file debugging endpoints under /debug/ on mux:
// a tailsql console over the map file and a backup download.
func (mf *MapFile) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(mf.path), mf.db, &tailsql.DBOptions{
		Label: "Map file",
	})
	debug.Handle("tailsql/", "SQL live debugging of the map file", tsql.NewMux())

	debug.Handle("mapfile-backup", "Create and download a backup of the map file now", http.HandlerFunc(mf.handleBackup))
	return nil
}

func (mf *MapFile) handleBackup(w http.ResponseWriter, r *http.Request) {
	name := security.SanitizeFilename(fmt.Sprintf("mapfile-backup-%d.db", mf.clock.Now().Unix()))
	backupPath := filepath.Join(os.TempDir(), name)
	if err := security.ValidateExportPath(backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Invalid backup path: %v", err), http.StatusInternalServerError)
		return
	}
	if _, err := mf.db.Exec("VACUUM INTO ?", backupPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("[MapFile] Failed to remove backup file: %v", err)
		}
	}()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeFile(w, r, backupPath)
}
