package progress

import (
	"time"

	"github.com/dshills/agentflow-go/flow/emit"
)

// Subscribe registers a session for a workflow's updates.
func (t *Tracker) Subscribe(workflow string, s Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions[workflow] == nil {
		t.sessions[workflow] = make(map[string]Session)
	}
	t.sessions[workflow][s.ID()] = s
}

// Unsubscribe removes a session. The session is not closed.
func (t *Tracker) Unsubscribe(workflow, sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m := t.sessions[workflow]; m != nil {
		delete(m, sessionID)
		if len(m) == 0 {
			delete(t.sessions, workflow)
		}
	}
}

// Run starts the broadcast and checkpoint loops. Close stops them.
func (t *Tracker) Run() {
	t.wg.Add(1)
	go t.broadcastLoop()
	if t.dir != "" {
		t.wg.Add(1)
		go t.checkpointLoop()
	}
}

// Close stops the background loops and waits for them to exit.
func (t *Tracker) Close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.wg.Wait()
}

func (t *Tracker) broadcastLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			t.Flush()
			return
		case <-ticker.C:
			t.Flush()
		}
	}
}

// Flush delivers one message per dirty item to the sessions subscribed to
// that item's root workflow. The mutex is held only to swap the dirty set
// and snapshot delivery targets, not across Send calls.
func (t *Tracker) Flush() {
	type delivery struct {
		msg      Message
		sessions []Session
	}

	t.mu.Lock()
	if len(t.dirty) == 0 {
		t.mu.Unlock()
		return
	}
	dirty := t.dirty
	t.dirty = make(map[string]Event)

	now := t.now()
	deliveries := make([]delivery, 0, len(dirty))
	for id, ev := range dirty {
		it, ok := t.items[id]
		if !ok {
			continue
		}
		workflow := t.rootWorkflow(id)
		subs := t.sessions[workflow]
		if len(subs) == 0 {
			continue
		}
		targets := make([]Session, 0, len(subs))
		for _, s := range subs {
			targets = append(targets, s)
		}
		msg := Message{
			Type:      "progress_update",
			Event:     ev,
			ItemID:    it.ID,
			ItemType:  it.Kind,
			Name:      it.Name,
			Status:    it.Status,
			Progress:  it.Percent,
			Workflow:  workflow,
			Timestamp: now,
		}
		if !it.EstimatedCompletion.IsZero() && !it.Status.terminal() {
			eta := it.EstimatedCompletion
			msg.EstimatedCompletion = &eta
		}
		deliveries = append(deliveries, delivery{msg: msg, sessions: targets})
	}
	t.mu.Unlock()

	for _, d := range deliveries {
		for _, s := range d.sessions {
			d.msg.ClientID = s.ID()
			if err := s.Send(d.msg); err != nil {
				t.emitEvent(emit.Event{
					Workflow: d.msg.Workflow,
					Level:    emit.LevelWarn,
					Msg:      "progress_broadcast_failed",
					Meta:     map[string]interface{}{"session": s.ID(), "error": err.Error()},
				})
			}
		}
	}
}
