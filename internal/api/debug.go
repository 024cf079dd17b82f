package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/fusion.report/internal/monitoring"
	"github.com/banshee-data/fusion.report/internal/storage/sqlite"
)

// AttachDebugRoutes mounts the tsweb debug index on mux, with engine
// counters, links to the track charts and, when db is non-nil, a tailsql
// console and a backup download over the track database.
func (s *Server) AttachDebugRoutes(mux *http.ServeMux, db *sqlite.DB) error {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("Published cycle", func() any { return s.engine.Published().Cycle() })
	debug.KVFunc("Active tracks", func() any { return s.engine.Published().Len() })
	if s.runner != nil {
		debug.KVFunc("Runner", func() any { return fmt.Sprintf("%+v", s.runner.Stats()) })
	}
	debug.URL("/debug/tracks/chart", "Track scatter (go-echarts)")
	debug.URL("/debug/tracks/plot.png", "Track plot (PNG)")

	if db == nil {
		return nil
	}

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+db.Path(), db.DB, &tailsql.DBOptions{
		Label: "Fusion tracks",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the track database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("fusion-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("[api] remove backup %s: %v", backupPath, err)
			}
		}()
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(backupPath)))
		http.ServeFile(w, r, backupPath)
	}))
	return nil
}
