package execlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/agentflow-go/flow/fault"
)

// Query narrows execution record lookups. Zero fields match everything.
type Query struct {
	NameContains  string
	Status        Status
	From, To      time.Time
	CorrelationID string
	Limit         int
}

func (q Query) matches(rec *ExecutionRecord) bool {
	if q.NameContains != "" && !strings.Contains(strings.ToLower(rec.Name), strings.ToLower(q.NameContains)) {
		return false
	}
	if q.Status != "" && rec.Status != q.Status {
		return false
	}
	if !q.From.IsZero() && rec.StartTime.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && rec.StartTime.After(q.To) {
		return false
	}
	if q.CorrelationID != "" && rec.CorrelationID != q.CorrelationID {
		return false
	}
	return true
}

// Store persists finished execution records.
type Store interface {
	Save(ctx context.Context, rec *ExecutionRecord) error
	Load(ctx context.Context, id string) (*ExecutionRecord, error)
	Query(ctx context.Context, q Query) ([]*ExecutionRecord, error)
	Close() error
}

// FileStore writes one JSON file per execution under
// <dir>/YYYY/MM/DD/<id>_<name>.json, bucketed by start date.
type FileStore struct {
	dir string
}

// NewFileStore creates the base directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create execution log dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, rec *ExecutionRecord) error {
	day := rec.StartTime.Format("2006/01/02")
	dir := filepath.Join(s.dir, day)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create execution log day dir: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution record %s: %w", rec.ID, err)
	}
	name := rec.ID + "_" + sanitizeName(rec.Name) + ".json"
	tmp := filepath.Join(dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write execution record %s: %w", rec.ID, err)
	}
	return os.Rename(tmp, filepath.Join(dir, name))
}

// Load implements Store.
func (s *FileStore) Load(ctx context.Context, id string) (*ExecutionRecord, error) {
	var found *ExecutionRecord
	err := s.walk(func(rec *ExecutionRecord) bool {
		if rec.ID == id {
			found = rec
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, &fault.NotFoundError{Kind: "execution", Name: id}
	}
	return found, nil
}

// Query implements Store. Results are ordered newest first.
func (s *FileStore) Query(ctx context.Context, q Query) ([]*ExecutionRecord, error) {
	var out []*ExecutionRecord
	err := s.walk(func(rec *ExecutionRecord) bool {
		if q.matches(rec) {
			out = append(out, rec)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// walk visits every record file; fn returning false stops early. Corrupt
// files are skipped.
func (s *FileStore) walk(fn func(*ExecutionRecord) bool) error {
	stop := fmt.Errorf("stop")
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		var rec ExecutionRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		if !fn(&rec) {
			return stop
		}
		return nil
	})
	if err == stop {
		return nil
	}
	return err
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return '-'
		}
	}, name)
}

// WindowMetrics aggregates executions inside a time window.
type WindowMetrics struct {
	Total           int                      `json:"total"`
	ByStatus        map[Status]int           `json:"by_status"`
	SuccessRate     float64                  `json:"success_rate"`
	AverageDuration map[string]time.Duration `json:"average_duration_by_type"`
	TopTools        []string                 `json:"top_tools"`
	TopAgents       []string                 `json:"top_agents"`
	ByDate          map[string]int           `json:"by_date"`
}

// Metrics aggregates all records in [from, to] from the store.
func Metrics(ctx context.Context, s Store, from, to time.Time) (WindowMetrics, error) {
	records, err := s.Query(ctx, Query{From: from, To: to})
	if err != nil {
		return WindowMetrics{}, err
	}

	m := WindowMetrics{
		ByStatus:        make(map[Status]int),
		AverageDuration: make(map[string]time.Duration),
		ByDate:          make(map[string]int),
	}
	durations := make(map[string]time.Duration)
	counts := make(map[string]int)
	tools := make(map[string]int)
	agents := make(map[string]int)

	for _, rec := range records {
		m.Total++
		m.ByStatus[rec.Status]++
		m.ByDate[rec.StartTime.Format("2006-01-02")]++
		durations[rec.Type] += rec.Duration
		counts[rec.Type]++
		for _, tool := range rec.ToolsUsed {
			tools[tool]++
		}
		for _, agent := range rec.AgentsUsed {
			agents[agent]++
		}
	}
	if m.Total > 0 {
		m.SuccessRate = float64(m.ByStatus[StatusCompleted]) / float64(m.Total)
	}
	for typ, total := range durations {
		m.AverageDuration[typ] = total / time.Duration(counts[typ])
	}
	m.TopTools = rankByCount(tools)
	m.TopAgents = rankByCount(agents)
	return m, nil
}

func rankByCount(counts map[string]int) []string {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}
