package store

import (
	"path/filepath"
	"sync"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bigheads.db")
	s, err := Open(path, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveMessageAndGetChatMessagesOrdering(t *testing.T) {
	s := openTestStore(t)

	for i, ts := range []float64{3, 1, 2} {
		env := Envelope{
			MsgID:     "m" + string(rune('a'+i)),
			ChatID:    "chat-1",
			From:      "node-a",
			To:        "node-b",
			Type:      "chat",
			Payload:   map[string]string{"text": "hi"},
			Timestamp: ts,
		}
		if err := s.SaveMessage(env, false); err != nil {
			t.Fatalf("SaveMessage: %v", err)
		}
	}

	rows, err := s.GetChatMessages("chat-1", 10)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[0].Timestamp != 1 || rows[1].Timestamp != 2 || rows[2].Timestamp != 3 {
		t.Fatalf("expected chronological order, got %+v", rows)
	}
}

func TestSaveMessageDefaultsBroadcastChatID(t *testing.T) {
	s := openTestStore(t)
	env := Envelope{MsgID: "m1", From: "node-a", To: "*", Type: "chat", Payload: "hi", Timestamp: 1}
	if err := s.SaveMessage(env, true); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	rows, err := s.GetChatMessages("broadcast", 10)
	if err != nil {
		t.Fatalf("GetChatMessages: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected message filed under broadcast chat, got %d rows", len(rows))
	}
}

func TestCheckAndMarkSeenEvictsBeyondLRULimit(t *testing.T) {
	s := openTestStore(t) // seenLRU = 3

	for i := 1; i <= 5; i++ {
		isNew, err := s.CheckAndMarkSeen("msg-"+string(rune('0'+i)), float64(i))
		if err != nil {
			t.Fatalf("CheckAndMarkSeen: %v", err)
		}
		if !isNew {
			t.Fatalf("expected msg-%d to be reported new", i)
		}
	}

	for i := 1; i <= 2; i++ {
		isNew, err := s.CheckAndMarkSeen("msg-"+string(rune('0'+i)), float64(i))
		if err != nil {
			t.Fatalf("CheckAndMarkSeen: %v", err)
		}
		if !isNew {
			t.Fatalf("expected msg-%d to have been evicted and thus reported new again", i)
		}
	}
	for i := 3; i <= 5; i++ {
		isNew, err := s.CheckAndMarkSeen("msg-"+string(rune('0'+i)), float64(i))
		if err != nil {
			t.Fatalf("CheckAndMarkSeen: %v", err)
		}
		if isNew {
			t.Fatalf("expected msg-%d to remain seen", i)
		}
	}
}

func TestCheckAndMarkSeenIsAtomicUnderConcurrentCallers(t *testing.T) {
	s := openTestStore(t)

	const callers = 16
	var wg sync.WaitGroup
	results := make([]bool, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			isNew, err := s.CheckAndMarkSeen("dup-msg", 1)
			if err != nil {
				t.Errorf("CheckAndMarkSeen: %v", err)
				return
			}
			results[i] = isNew
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, isNew := range results {
		if isNew {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one caller to win the race for the same msg_id, got %d", winners)
	}
}

func TestContactUpsertBlockAndRoute(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertContact("node-x", 100); err != nil {
		t.Fatalf("UpsertContact: %v", err)
	}
	blocked, err := s.IsBlocked("node-x")
	if err != nil || blocked {
		t.Fatalf("expected node-x not blocked yet, err=%v blocked=%v", err, blocked)
	}
	if err := s.SetBlocked("node-x", true); err != nil {
		t.Fatalf("SetBlocked: %v", err)
	}
	blocked, err = s.IsBlocked("node-x")
	if err != nil || !blocked {
		t.Fatalf("expected node-x blocked, err=%v blocked=%v", err, blocked)
	}

	if err := s.UpdateRoute("node-y", "node-z", 2, 10); err != nil {
		t.Fatalf("UpdateRoute: %v", err)
	}
	route, err := s.GetRoute("node-y")
	if err != nil || route == nil {
		t.Fatalf("GetRoute: %v, %+v", err, route)
	}
	if route.ViaNode != "node-z" || route.Hops != 2 {
		t.Fatalf("unexpected route: %+v", route)
	}

	if err := s.UpdateRoute("node-y", "node-w", 1, 20); err != nil {
		t.Fatalf("UpdateRoute overwrite: %v", err)
	}
	route, err = s.GetRoute("node-y")
	if err != nil || route.ViaNode != "node-w" || route.Hops != 1 {
		t.Fatalf("expected last-writer-wins route update, got %+v, err=%v", route, err)
	}
}

func TestChatKeyRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if err := s.SetChatKey("chat-1", []byte(`{"local_priv_b64":"aa"}`), 1); err != nil {
		t.Fatalf("SetChatKey: %v", err)
	}
	raw, err := s.GetChatKey("chat-1")
	if err != nil {
		t.Fatalf("GetChatKey: %v", err)
	}
	if string(raw) != `{"local_priv_b64":"aa"}` {
		t.Fatalf("unexpected key json: %s", raw)
	}
	missing, err := s.GetChatKey("chat-none")
	if err != nil || missing != nil {
		t.Fatalf("expected nil for missing chat key, got %v, err=%v", missing, err)
	}
}

func TestOutboxEnqueueDequeueDelete(t *testing.T) {
	s := openTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.EnqueueOutbox("node-b", []byte(`{"msg_id":"m"}`), float64(i)); err != nil {
			t.Fatalf("EnqueueOutbox: %v", err)
		}
	}
	rows, err := s.DequeueOutboxFor("node-b", 10)
	if err != nil {
		t.Fatalf("DequeueOutboxFor: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 queued entries, got %d", len(rows))
	}

	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := s.DeleteOutboxIDs(ids); err != nil {
		t.Fatalf("DeleteOutboxIDs: %v", err)
	}
	rows, err = s.DequeueOutboxFor("node-b", 10)
	if err != nil {
		t.Fatalf("DequeueOutboxFor after delete: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected outbox drained, got %d rows", len(rows))
	}
}

func TestReactionsAndTypingAndClearHistory(t *testing.T) {
	s := openTestStore(t)
	env := Envelope{MsgID: "m1", ChatID: "chat-1", From: "a", To: "b", Type: "chat", Payload: "hi", Timestamp: 1}
	if err := s.SaveMessage(env, true); err != nil {
		t.Fatalf("SaveMessage: %v", err)
	}
	if err := s.AddReaction("m1", "node-c", "👍", 2); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	reactions, err := s.GetReactions("m1")
	if err != nil || len(reactions) != 1 || reactions[0].Reaction != "👍" {
		t.Fatalf("unexpected reactions: %+v, err=%v", reactions, err)
	}

	if err := s.SetTyping("chat-1", "node-c", true, 3); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}

	if err := s.ClearHistory(); err != nil {
		t.Fatalf("ClearHistory: %v", err)
	}
	rows, err := s.GetChatMessages("chat-1", 10)
	if err != nil || len(rows) != 0 {
		t.Fatalf("expected messages cleared, got %+v, err=%v", rows, err)
	}
	reactions, err = s.GetReactions("m1")
	if err != nil || len(reactions) != 0 {
		t.Fatalf("expected reactions cleared, got %+v, err=%v", reactions, err)
	}
}
