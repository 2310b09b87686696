package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dshills/agentflow-go/flow/progress"
)

func TestSSEResponseEventOrder(t *testing.T) {
	src := NewSliceSource("alpha", "beta", "gamma")
	p := NewProcessor(FormatSSE, WithStreamID("s-1"))
	rec := httptest.NewRecorder()

	if err := WriteResponse(context.Background(), rec, p, src); err != nil {
		t.Fatal(err)
	}

	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %s", got)
	}
	if got := rec.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Errorf("buffering header = %s", got)
	}

	var events []string
	var dataLines []string
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
		if strings.HasPrefix(line, "data: ") {
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		}
	}

	want := []string{"started", "chunk", "chunk", "chunk", "complete"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, events[i], want[i])
		}
	}

	// Every data line is valid JSON; chunk ids increase monotonically.
	lastID := 0
	for i, line := range dataLines {
		var payload map[string]interface{}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			t.Fatalf("data line %d is not JSON: %v", i, err)
		}
		if events[i] != "chunk" {
			continue
		}
		id := int(payload["id"].(float64))
		if id <= lastID {
			t.Errorf("chunk id %d not greater than %d", id, lastID)
		}
		lastID = id
	}
}

func TestJSONResponseOneObjectPerLine(t *testing.T) {
	src := NewSliceSource("one", "two")
	p := NewProcessor(FormatJSON)
	rec := httptest.NewRecorder()

	if err := WriteResponse(context.Background(), rec, p, src); err != nil {
		t.Fatal(err)
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json; charset=utf-8" {
		t.Errorf("content type = %s", got)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d", len(lines))
	}
	for _, line := range lines {
		var c Chunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			t.Errorf("line %q not JSON: %v", line, err)
		}
		if c.Type != ChunkDelta {
			t.Errorf("chunk type = %s", c.Type)
		}
	}
}

func TestTextAndBinaryResponses(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteResponse(context.Background(), rec, NewProcessor(FormatText), NewSliceSource("ab", "cd")); err != nil {
		t.Fatal(err)
	}
	if rec.Body.String() != "abcd" {
		t.Errorf("text body = %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	if err := WriteResponse(context.Background(), rec, NewProcessor(FormatBinary), NewSliceSource([]byte{1, 2}, []byte{3})); err != nil {
		t.Fatal(err)
	}
	if got := rec.Body.Bytes(); len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Errorf("binary body = %v", got)
	}
	if rec.Header().Get("Content-Type") != "application/octet-stream" {
		t.Errorf("content type = %s", rec.Header().Get("Content-Type"))
	}
}

func TestProcessorTransformAndError(t *testing.T) {
	p := NewProcessor(FormatText, WithTransform(func(item interface{}) (interface{}, error) {
		return strings.ToUpper(item.(string)), nil
	}))
	var got []string
	err := p.Process(context.Background(), NewSliceSource("a", "b"), func(ev Event) error {
		if ev.Kind == EventChunk {
			got = append(got, ev.Chunk.Content.(string))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Errorf("transformed = %v", got)
	}

	boom := errors.New("source died")
	failing := FuncSource(func(ctx context.Context) (interface{}, bool, error) {
		return nil, false, boom
	})
	var kinds []EventKind
	err = NewProcessor(FormatText).Process(context.Background(), failing, func(ev Event) error {
		kinds = append(kinds, ev.Kind)
		return nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
	if len(kinds) != 2 || kinds[0] != EventStarted || kinds[1] != EventError {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestRegistryCancellation(t *testing.T) {
	reg := NewRegistry()
	p := NewProcessor(FormatText, WithStreamID("s-9"))
	reg.Add(p)

	if ids := reg.IDs(); len(ids) != 1 || ids[0] != "s-9" {
		t.Errorf("ids = %v", ids)
	}
	if !reg.Cancel("s-9") {
		t.Fatal("cancel failed")
	}
	if reg.Cancel("ghost") {
		t.Error("cancelled unknown stream")
	}

	// The processor observes the flag between items.
	items := 0
	endless := FuncSource(func(ctx context.Context) (interface{}, bool, error) {
		items++
		return "x", true, nil
	})
	var last EventKind
	err := p.Process(context.Background(), endless, func(ev Event) error {
		last = ev.Kind
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if last != EventCancelled {
		t.Errorf("final event = %s", last)
	}
	if items != 0 {
		t.Errorf("cancelled stream still pulled %d items", items)
	}

	reg.Remove("s-9")
	if reg.Get("s-9") != nil {
		t.Error("stream not removed")
	}
}

func TestProgressAdapterMirrorsLifecycle(t *testing.T) {
	tr := progress.NewTracker()
	wf := tr.CreateWorkflow("wf")
	item, err := tr.CreateStep(wf, "stream")
	if err != nil {
		t.Fatal(err)
	}

	adapter := NewProgressAdapter(tr, item)
	p := NewProcessor(FormatJSON)
	src := NewSliceSource(25.0, 50.0, 100.0)

	if err := p.Process(context.Background(), src, adapter.Wrap(nil)); err != nil {
		t.Fatal(err)
	}
	it, _ := tr.Item(item)
	if it.Status != progress.StatusCompleted || it.Percent != 100 {
		t.Errorf("item = %+v", it)
	}

	// Failure path marks the item failed.
	item2, _ := tr.CreateStep(wf, "stream2")
	adapter2 := NewProgressAdapter(tr, item2)
	boom := errors.New("no")
	failing := FuncSource(func(ctx context.Context) (interface{}, bool, error) {
		return nil, false, boom
	})
	_ = NewProcessor(FormatJSON).Process(context.Background(), failing, adapter2.Wrap(nil))
	it2, _ := tr.Item(item2)
	if it2.Status != progress.StatusFailed {
		t.Errorf("item2 status = %s", it2.Status)
	}
}
