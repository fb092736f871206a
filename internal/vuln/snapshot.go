package vuln

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"vulnvault/internal/versions"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Snapshot is an offline advisory corpus: ecosystem -> package -> advisories.
type Snapshot map[versions.Ecosystem]map[string][]Advisory

// ParseSnapshot decodes a YAML snapshot and validates its ecosystems.
func ParseSnapshot(r io.Reader) (Snapshot, error) {
	var raw map[string]map[string][]Advisory
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	snap := make(Snapshot, len(raw))
	for ecoName, pkgs := range raw {
		eco, err := versions.ParseEcosystem(ecoName)
		if err != nil {
			return nil, err
		}
		byName := make(map[string][]Advisory, len(pkgs))
		for name, advs := range pkgs {
			for i := range advs {
				advs[i].Severity = MapSeverity(string(advs[i].Severity))
			}
			key := NormalizeName(eco, name)
			byName[key] = append(byName[key], advs...)
		}
		snap[eco] = byName
	}
	return snap, nil
}

// WriteSnapshot encodes snap as YAML.
func WriteSnapshot(w io.Writer, snap Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return err
	}
	return enc.Close()
}

// SnapshotIndex serves lookups from an in-memory snapshot. Replace swaps the
// whole snapshot at once; in-flight lookups keep the one they started with.
type SnapshotIndex struct {
	current atomic.Pointer[Snapshot]
	logger  *slog.Logger
}

// NewSnapshotIndex wraps snap.
func NewSnapshotIndex(snap Snapshot, logger *slog.Logger) *SnapshotIndex {
	if logger == nil {
		logger = slog.Default()
	}
	idx := &SnapshotIndex{logger: logger}
	idx.Replace(snap)
	return idx
}

// LoadSnapshotIndex reads a snapshot file.
func LoadSnapshotIndex(path string, logger *slog.Logger) (*SnapshotIndex, error) {
	snap, err := readSnapshotFile(path)
	if err != nil {
		return nil, err
	}
	return NewSnapshotIndex(snap, logger), nil
}

func readSnapshotFile(path string) (Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()
	return ParseSnapshot(f)
}

// Replace installs a new snapshot.
func (s *SnapshotIndex) Replace(snap Snapshot) {
	if snap == nil {
		snap = Snapshot{}
	}
	s.current.Store(&snap)
}

// Lookup implements Index. Unknown packages have no advisories.
func (s *SnapshotIndex) Lookup(_ context.Context, eco versions.Ecosystem, name string) ([]Advisory, error) {
	snap := *s.current.Load()
	return snap[eco][NormalizeName(eco, name)], nil
}

// Watch reloads path whenever it is written or recreated, until ctx is
// done. A snapshot that fails to parse is logged and the previous one is
// kept.
func (s *SnapshotIndex) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	// editors replace files by rename, so watch the directory
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	go func() {
		defer watcher.Close()
		target := filepath.Clean(path)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				snap, err := readSnapshotFile(path)
				if err != nil {
					s.logger.Warn("advisory snapshot reload failed, keeping previous", "path", path, "error", err)
					continue
				}
				s.Replace(snap)
				s.logger.Info("advisory snapshot reloaded", "path", path, "ecosystems", len(snap))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("advisory snapshot watcher error", "error", err)
			}
		}
	}()
	return nil
}
