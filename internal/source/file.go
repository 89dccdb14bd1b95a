// Package source reads position snapshots for the decision loop and the CLI.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"zone-position-engine/internal/logging"
	"zone-position-engine/internal/orchestrator"
)

// PositionSource provides one snapshot per decision cycle
type PositionSource interface {
	Snapshot(ctx context.Context) (orchestrator.Snapshot, error)
}

// Format is a snapshot file encoding
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrEmptySnapshot = errors.New("snapshot file is empty")

// FormatOf picks the encoding from the file extension, JSON by default
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Decode parses a snapshot. YAML is normalised through JSON so positions get the
// same lenient field decoding either way.
func Decode(data []byte, format Format) (orchestrator.Snapshot, error) {
	var snap orchestrator.Snapshot
	if len(strings.TrimSpace(string(data))) == 0 {
		return snap, ErrEmptySnapshot
	}

	if format == FormatYAML {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return snap, fmt.Errorf("parsing yaml snapshot: %w", err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return snap, fmt.Errorf("converting yaml snapshot: %w", err)
		}
		data = converted
	}

	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("parsing snapshot: %w", err)
	}
	return snap, nil
}

// Warnings collects the per-position field warnings produced by decoding
func Warnings(snap orchestrator.Snapshot) []string {
	var out []string
	for _, p := range snap.Positions {
		for _, w := range p.Warnings {
			out = append(out, fmt.Sprintf("#%d %s", p.Ticket, w))
		}
	}
	return out
}

// Load reads and decodes a snapshot file
func Load(path string) (orchestrator.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	snap, err := Decode(data, FormatOf(path))
	if err != nil {
		return snap, fmt.Errorf("%s: %w", path, err)
	}
	return snap, nil
}

// FileSource re-reads a snapshot file that an external exporter keeps current.
// An unchanged file is served from memory.
type FileSource struct {
	path   string
	logger *logging.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	last    orchestrator.Snapshot
	loaded  bool
}

// NewFileSource creates a source over path
func NewFileSource(path string, logger *logging.Logger) *FileSource {
	if logger == nil {
		logger = logging.Nop()
	}
	return &FileSource{path: path, logger: logger.WithComponent("snapshot-source")}
}

// Path returns the watched file
func (s *FileSource) Path() string {
	return s.path
}

// Snapshot returns the current file contents
func (s *FileSource) Snapshot(ctx context.Context) (orchestrator.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return orchestrator.Snapshot{}, err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return orchestrator.Snapshot{}, fmt.Errorf("stat snapshot %s: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.last, nil
	}

	snap, err := Load(s.path)
	if err != nil {
		return orchestrator.Snapshot{}, err
	}
	if warnings := Warnings(snap); len(warnings) > 0 {
		s.logger.Warn("snapshot has malformed position fields", "count", len(warnings), "first", warnings[0])
	}
	s.last, s.modTime, s.size, s.loaded = snap, info.ModTime(), info.Size(), true
	s.logger.Debug("snapshot loaded", "positions", len(snap.Positions), "price", snap.Price)
	return snap, nil
}

// Static serves a fixed snapshot
type Static orchestrator.Snapshot

// Snapshot returns the fixed snapshot
func (s Static) Snapshot(context.Context) (orchestrator.Snapshot, error) {
	return orchestrator.Snapshot(s), nil
}
