// Package results persists completed run bundles to disk, as indented JSON
// for inspection and a msgpack twin for compact archival. Files are named
// by run ID so a bundle can be located without opening it.
package results

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/helmsman/internal/domain"
)

// Store reads and writes run result bundles under one directory.
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore creates a results store rooted at dir. The directory is created
// on first write, not here.
func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "results").Logger(),
	}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) jsonPath(runID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-%s.json", runID))
}

func (s *Store) msgpackPath(runID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("run-%s.msgpack", runID))
}

// Write persists both encodings of a result bundle and returns the JSON
// path. A bundle without a run ID is refused; the ID is the filename.
func (s *Store) Write(result domain.RunResult) (string, error) {
	if result.RunID == "" {
		return "", fmt.Errorf("cannot write result without run ID")
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	jsonPath := s.jsonPath(result.RunID)
	if err := os.WriteFile(jsonPath, jsonBytes, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", jsonPath, err)
	}

	packed, err := msgpack.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to pack result: %w", err)
	}
	packPath := s.msgpackPath(result.RunID)
	if err := os.WriteFile(packPath, packed, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", packPath, err)
	}

	s.log.Info().
		Str("run_id", result.RunID).
		Str("path", jsonPath).
		Int("trades", len(result.Trades)).
		Int("json_bytes", len(jsonBytes)).
		Int("msgpack_bytes", len(packed)).
		Msg("Run result written")

	return jsonPath, nil
}

// Load reads a bundle by run ID, preferring the JSON file and falling back
// to the msgpack twin.
func (s *Store) Load(runID string) (domain.RunResult, error) {
	result, err := s.ReadFile(s.jsonPath(runID))
	if err == nil {
		return result, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return domain.RunResult{}, err
	}
	return s.ReadFile(s.msgpackPath(runID))
}

// ReadFile decodes one bundle file, choosing the codec by extension.
func (s *Store) ReadFile(path string) (domain.RunResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RunResult{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var result domain.RunResult
	switch filepath.Ext(path) {
	case ".msgpack":
		if err := msgpack.Unmarshal(data, &result); err != nil {
			return domain.RunResult{}, fmt.Errorf("failed to unpack %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &result); err != nil {
			return domain.RunResult{}, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return result, nil
}

// List returns the run IDs with a JSON bundle on disk, sorted. A missing
// results directory is an empty list, not an error.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var runIDs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		runIDs = append(runIDs, strings.TrimSuffix(strings.TrimPrefix(name, "run-"), ".json"))
	}
	sort.Strings(runIDs)
	return runIDs, nil
}
