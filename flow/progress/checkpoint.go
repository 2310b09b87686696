package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dshills/agentflow-go/flow/emit"
)

const checkpointVersion = "1.0"

// snapshotFile is the on-disk layout of a progress checkpoint.
type snapshotFile struct {
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	State     snapshotState     `json:"state"`
	Estimator estimatorSnapshot `json:"estimator"`
}

type snapshotState struct {
	Items   map[string]*Item `json:"items"`
	RootIDs []string         `json:"root_ids"`
}

func (t *Tracker) checkpointLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			if err := t.Checkpoint(); err != nil {
				t.emitEvent(emit.Event{Level: emit.LevelWarn, Msg: "progress_checkpoint_failed", Meta: map[string]interface{}{"error": err.Error()}})
			}
			return
		case <-ticker.C:
			if err := t.Checkpoint(); err != nil {
				t.emitEvent(emit.Event{Level: emit.LevelWarn, Msg: "progress_checkpoint_failed", Meta: map[string]interface{}{"error": err.Error()}})
			}
		}
	}
}

// Checkpoint writes the whole tracker to a timestamped snapshot file.
func (t *Tracker) Checkpoint() error {
	if t.dir == "" {
		return nil
	}
	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create progress checkpoint dir: %w", err)
	}

	t.mu.Lock()
	now := t.now()
	snap := snapshotFile{
		Version:   checkpointVersion,
		Timestamp: now,
		State: snapshotState{
			Items:   make(map[string]*Item, len(t.items)),
			RootIDs: make([]string, 0, len(t.roots)),
		},
		Estimator: t.estimator.snapshot(),
	}
	for id, it := range t.items {
		copied := *it
		copied.Children = append([]string(nil), it.Children...)
		snap.State.Items[id] = &copied
	}
	for id := range t.roots {
		snap.State.RootIDs = append(snap.State.RootIDs, id)
	}
	t.mu.Unlock()
	sort.Strings(snap.State.RootIDs)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress checkpoint: %w", err)
	}
	name := fmt.Sprintf("progress_checkpoint_%d.json", now.UnixMilli())
	tmp := filepath.Join(t.dir, name+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress checkpoint: %w", err)
	}
	return os.Rename(tmp, filepath.Join(t.dir, name))
}

// Restore repopulates the tracker from the most recent snapshot in the
// checkpoint directory. Missing directory or no snapshots is not an error.
func (t *Tracker) Restore() error {
	if t.dir == "" {
		return nil
	}
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read progress checkpoint dir: %w", err)
	}

	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, "progress_checkpoint_") && strings.HasSuffix(name, ".json") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	sort.Strings(names)
	latest := names[len(names)-1]

	data, err := os.ReadFile(filepath.Join(t.dir, latest))
	if err != nil {
		return fmt.Errorf("read progress checkpoint %s: %w", latest, err)
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("decode progress checkpoint %s: %w", latest, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = make(map[string]*Item, len(snap.State.Items))
	for id, it := range snap.State.Items {
		t.items[id] = it
	}
	t.roots = make(map[string]bool, len(snap.State.RootIDs))
	for _, id := range snap.State.RootIDs {
		t.roots[id] = true
	}
	t.estimator.restore(snap.Estimator)
	return nil
}
