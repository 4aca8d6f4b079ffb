package alerts

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/retailvision/trinetra/internal/platform/paths"
)

// ensureSpoolDir creates the spool directory if it doesn't already
// exist, adapted from the teacher's audit spool but without the
// Windows-specific hardcoded default path.
func ensureSpoolDir(dir string) error {
	return os.MkdirAll(dir, 0750)
}

// spool appends r to the local append-only spool file, used when the
// alerts table (or its connection) is unavailable. One record per line,
// JSON-encoded.
func (s *Store) spool(r record) error {
	if s.spoolDir == "" {
		return fmt.Errorf("alerts: no spool directory configured")
	}

	spoolPath, err := paths.SafeJoin(s.spoolDir, "alerts_spool.log")
	if err != nil {
		return fmt.Errorf("alerts: resolve spool path: %w", err)
	}
	f, err := os.OpenFile(spoolPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("alerts: open spool: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("alerts: marshal spooled record: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("alerts: write spool: %w", err)
	}
	return nil
}

// ReplaySpool reads the spool file, retries each record against the
// database, and re-spools anything that still fails. Intended to run on
// a ticker alongside the resolver's main loop, mirroring the teacher's
// audit replay worker.
func (s *Store) ReplaySpool(ctx context.Context) (int, error) {
	path, err := paths.SafeJoin(s.spoolDir, "alerts_spool.log")
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve spool path: %w", err)
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if info.Size() == 0 {
		return 0, nil
	}

	replayPath, err := paths.SafeJoin(s.spoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err != nil {
		return 0, fmt.Errorf("alerts: resolve replay path: %w", err)
	}
	if err := os.Rename(path, replayPath); err != nil {
		return 0, fmt.Errorf("alerts: rotate spool for replay: %w", err)
	}
	defer os.Remove(replayPath)

	f, err := os.Open(replayPath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	succeeded := 0
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			continue
		}
		if err := s.insert(ctx, r); err != nil {
			_ = s.spool(r)
			continue
		}
		succeeded++
	}
	return succeeded, scanner.Err()
}
