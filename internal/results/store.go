package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/vitals"
)

// Source identifies where the analyzed video came from.
type Source string

const (
	SourceUpload Source = "upload"
	SourceWebcam Source = "webcam"
)

// Record is one persisted analysis result.
type Record struct {
	Timestamp   string              `json:"timestamp"`
	VideoSource Source              `json:"video_source"`
	VideoPath   string              `json:"video_path,omitempty"`
	Method      string              `json:"method"`
	RawResult   []vitals.FaceResult `json:"raw_result"`
	Summary     string              `json:"summary,omitempty"`
}

// Store persists analysis records as JSON files, one file per method per
// analysis, grouped by source under the results directory.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the record under {dir}/{source}/ and returns the file path.
// Filenames embed the source, method and timestamp so a directory listing
// reads chronologically per method.
func (s *Store) Save(rec Record) (string, error) {
	subdir := filepath.Join(s.dir, string(rec.VideoSource))
	if err := os.MkdirAll(subdir, 0o755); err != nil {
		return "", fmt.Errorf("create results directory: %w", err)
	}

	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format("20060102_150405")
	}

	name := fmt.Sprintf("%s_analysis_%s_%s.json", rec.VideoSource, sanitizeMethod(rec.Method), rec.Timestamp)
	path := filepath.Join(subdir, name)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write result: %w", err)
	}

	logger.Info("Results", "Saved %s", path)
	return path, nil
}

// List returns saved records for a source, newest first, up to limit.
// A zero or negative limit returns everything.
func (s *Store) List(source Source, limit int) ([]Record, error) {
	subdir := filepath.Join(s.dir, string(source))
	entries, err := os.ReadDir(subdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read results directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	records := make([]Record, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(subdir, name))
		if err != nil {
			logger.Warn("Results", "Skipping unreadable %s: %v", name, err)
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			logger.Warn("Results", "Skipping malformed %s: %v", name, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// sanitizeMethod makes a method name safe for filenames.
func sanitizeMethod(method string) string {
	m := strings.ToLower(method)
	m = strings.ReplaceAll(m, " ", "_")
	m = strings.ReplaceAll(m, "/", "-")
	return m
}
