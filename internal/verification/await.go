package verification

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/tandem/pkg/models"
)

// Await blocks until the session's evidence reaches a terminal status
// (anything but NOT_STARTED or IN_PROGRESS) or the context ends. It watches
// the bundle directory for writes instead of polling.
func (g *Gate) Await(ctx context.Context, sessionID int64) (models.VerificationStatus, error) {
	dir := g.SessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create verification dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return "", fmt.Errorf("watch %s: %w", dir, err)
	}

	// Check once after the watch is in place; the report may already exist.
	status, err := g.StatusFor(sessionID)
	if err != nil {
		return "", err
	}
	if terminal(status) {
		return status, nil
	}

	for {
		select {
		case <-ctx.Done():
			return status, ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return status, fmt.Errorf("watcher closed")
			}
			if filepath.Base(event.Name) != reportFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			status, err = g.StatusFor(sessionID)
			if err != nil {
				return "", err
			}
			if terminal(status) {
				return status, nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return status, fmt.Errorf("watcher closed")
			}
			return status, fmt.Errorf("watch error: %w", err)
		}
	}
}

func terminal(status models.VerificationStatus) bool {
	switch status {
	case models.VerificationNotStarted, models.VerificationInProgress:
		return false
	default:
		return true
	}
}
