// ABOUTME: TUI update helpers for the wsdsp server
// ABOUTME: Polls server sessions and counters into TUI status snapshots
package server

import (
	"context"
	"time"

	"github.com/faintsignals/wsdsp/pkg/wsdsp"
)

// StatusSource is the part of *wsdsp.Server the TUI reads.
type StatusSource interface {
	Config() wsdsp.ServerConfig
	Sessions() []wsdsp.SessionInfo
	Stats() wsdsp.Stats
}

// Snapshot builds a status from src at now.
func Snapshot(src StatusSource, now time.Time) ServerStatus {
	cfg := src.Config()
	stats := src.Stats()

	status := ServerStatus{
		Name:     cfg.Name,
		Port:     cfg.Port,
		Path:     cfg.Path,
		Uptime:   stats.Uptime,
		Requests: stats.Requests,
		Errors:   stats.Errors,
	}
	if cfg.Registry != nil {
		for _, op := range cfg.Registry.Operations() {
			status.Operations = append(status.Operations, op.String())
		}
	}

	sessions := src.Sessions()
	status.Sessions = make([]SessionRow, 0, len(sessions))
	for _, sess := range sessions {
		status.Sessions = append(status.Sessions, SessionRow{
			ID:         sess.ID,
			RemoteAddr: sess.RemoteAddr,
			Connected:  now.Sub(sess.ConnectedAt),
			Requests:   sess.Requests,
		})
	}
	return status
}

// Follow pushes a snapshot of src to the TUI every interval until ctx ends.
func (t *ServerTUI) Follow(ctx context.Context, src StatusSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		t.Update(Snapshot(src, time.Now()))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
