package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dshills/agentflow-go/flow/emit"
)

// Persisted state file layout. Timestamps are ISO-8601 (RFC 3339); the
// value kind is stored as its string tag.

type persistedFile struct {
	Variables map[string]persistedVariable `json:"variables"`
	Groups    map[string]persistedGroup    `json:"groups"`
	Timestamp time.Time                    `json:"timestamp"`
}

type persistedVariable struct {
	Metadata  persistedMetadata `json:"metadata"`
	Value     interface{}       `json:"value"`
	Default   interface{}       `json:"default,omitempty"`
	ValueType Kind              `json:"value_type"`
}

type persistedMetadata struct {
	Name        string     `json:"name"`
	Scope       Scope      `json:"scope"`
	Permission  Permission `json:"permission"`
	Owner       string     `json:"owner,omitempty"`
	AccessList  []string   `json:"access_list,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	TTLSeconds  float64    `json:"ttl_seconds,omitempty"`
	AllowCoerce bool       `json:"allow_coerce,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type persistedGroup struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Variables   map[string]bool `json:"variables"`
}

// Save writes the store to path as UTF-8 JSON. The write is atomic: data
// goes to a temp file in the same directory which is then renamed over
// path. Validators are not persisted.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	out := persistedFile{
		Variables: make(map[string]persistedVariable, len(s.vars)),
		Groups:    make(map[string]persistedGroup, len(s.groups)),
		Timestamp: s.now(),
	}
	for name, v := range s.vars {
		out.Variables[name] = persistedVariable{
			Metadata: persistedMetadata{
				Name:        v.Name,
				Scope:       v.Scope,
				Permission:  v.Permission,
				Owner:       v.Owner,
				AccessList:  v.AccessList,
				Tags:        v.Tags,
				TTLSeconds:  v.TTL.Seconds(),
				AllowCoerce: v.AllowCoerce,
				CreatedAt:   v.CreatedAt,
				UpdatedAt:   v.UpdatedAt,
			},
			Value:     v.Value,
			Default:   v.Default,
			ValueType: v.Type,
		}
	}
	for name, g := range s.groups {
		members := make(map[string]bool, len(g.Variables))
		for m := range g.Variables {
			members[m] = true
		}
		out.Groups[name] = persistedGroup{Name: g.Name, Description: g.Description, Variables: members}
	}
	s.mu.Unlock()

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return atomicWrite(path, data)
}

// Load replaces the store contents with the file at path. Unknown or
// malformed variables are skipped with a warning event rather than failing
// the whole load.
func (s *Store) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	var in persistedFile
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode state file %s: %w", path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vars = make(map[string]*Variable, len(in.Variables))
	s.groups = make(map[string]*Group, len(in.Groups))

	for name, pv := range in.Variables {
		value, err := reviveValue(pv.Value, pv.ValueType)
		if err != nil {
			s.emitEvent(emit.Event{
				Level: emit.LevelWarn,
				Msg:   "state_load_skip",
				Meta:  map[string]interface{}{"variable": name, "error": err.Error()},
			})
			continue
		}
		def, err := reviveValue(pv.Default, pv.ValueType)
		if err != nil {
			def = nil
		}
		s.vars[name] = &Variable{
			Name:        name,
			Value:       value,
			Default:     def,
			Type:        pv.ValueType,
			AllowCoerce: pv.Metadata.AllowCoerce,
			Scope:       pv.Metadata.Scope,
			Permission:  pv.Metadata.Permission,
			Owner:       pv.Metadata.Owner,
			AccessList:  pv.Metadata.AccessList,
			Tags:        pv.Metadata.Tags,
			TTL:         time.Duration(pv.Metadata.TTLSeconds * float64(time.Second)),
			CreatedAt:   pv.Metadata.CreatedAt,
			UpdatedAt:   pv.Metadata.UpdatedAt,
		}
	}

	for name, pg := range in.Groups {
		members := make(map[string]bool, len(pg.Variables))
		for m, ok := range pg.Variables {
			if ok {
				members[m] = true
			}
		}
		s.groups[name] = &Group{Name: name, Description: pg.Description, Variables: members}
	}
	return nil
}

// reviveValue restores the recorded kind after a JSON round trip, which
// collapses all numbers to float64.
func reviveValue(v interface{}, kind Kind) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if KindOf(v) == kind {
		return v, nil
	}
	return Coerce(v, kind)
}

// atomicWrite writes data to a temp file beside path and renames it into
// place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
