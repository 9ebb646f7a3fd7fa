// Package archive persists frames and metadata records under a
// deterministic, collision-free directory layout.
package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	ilog "cardmotion/internal/log"
	"cardmotion/internal/stats"
	"cardmotion/pkg/model"

	"github.com/tidwall/sjson"
)

const manifestName = "manifest.json"

type Archiver struct {
	root  string
	stats *stats.Stats

	// mu serializes the manifest read-modify-write cycle.
	mu sync.Mutex
}

// New roots an archiver at dir, creating it if needed.
func New(dir string, st *stats.Stats) (*Archiver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &model.ArchiveError{Path: dir, Err: err}
	}
	return &Archiver{root: dir, stats: st}, nil
}

func (a *Archiver) Root() string { return a.root }

// WriteFrame persists one PNG under
// {category}/{element}/{probe}/frame_{index}.png and returns the path
// relative to the archive root. Re-writing the same tuple overwrites the
// previous file. Failures are ArchiveError: systemic, never swallowed.
func (a *Archiver) WriteFrame(category string, element int, probe model.ProbeType, frame int, data []byte) (string, error) {
	rel := filepath.Join(category, strconv.Itoa(element), string(probe),
		fmt.Sprintf("frame_%d.png", frame))
	abs := filepath.Join(a.root, rel)

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", &model.ArchiveError{Path: rel, Err: err}
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return "", &model.ArchiveError{Path: rel, Err: err}
	}

	if err := a.recordFrame(category, element, probe, frame, rel); err != nil {
		return "", err
	}
	a.stats.AddScreenshot()
	return rel, nil
}

// recordFrame patches the manifest in place instead of re-marshalling the
// whole document on every frame.
func (a *Archiver) recordFrame(category string, element int, probe model.ProbeType, frame int, rel string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.root, manifestName)
	cur, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return &model.ArchiveError{Path: manifestName, Err: err}
		}
		cur = []byte("{}")
	}
	key := fmt.Sprintf("frames.%s.e%d.%s.f%d", category, element, probe, frame)
	next, err := sjson.SetBytes(cur, key, rel)
	if err != nil {
		return &model.ArchiveError{Path: manifestName, Err: err}
	}
	if err := os.WriteFile(path, next, 0o644); err != nil {
		return &model.ArchiveError{Path: manifestName, Err: err}
	}
	return nil
}

// WriteJSON persists v indent-marshalled at rel under the archive root.
func (a *Archiver) WriteJSON(rel string, v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", &model.ArchiveError{Path: rel, Err: err}
	}
	return a.WriteBytes(rel, b)
}

// WriteBytes persists raw bytes at rel under the archive root.
func (a *Archiver) WriteBytes(rel string, b []byte) (string, error) {
	abs := filepath.Join(a.root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", &model.ArchiveError{Path: rel, Err: err}
	}
	if err := os.WriteFile(abs, b, 0o644); err != nil {
		return "", &model.ArchiveError{Path: rel, Err: err}
	}
	ilog.L().Debug().Str("path", rel).Int("bytes", len(b)).Msg("archived")
	return abs, nil
}
