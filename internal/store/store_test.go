package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so run it again to check idempotency.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + replies/read receipts)", result.Version)
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	db := testDB(t)

	requiredOps := []struct {
		desc  string
		query string
		args  []any
	}{
		{"insert message", "INSERT INTO messages (id, conversation_id, sender_id, kind, content, duration, reply_to_id, read_at, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", []any{"m1", "c1", "u1", "text", "hello", 0, "", 0, "received", 1000}},
		{"insert conversation", "INSERT INTO conversations (id, patient_id, counselor_id, topic, urgency, status, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)", []any{"c1", "p1", "co1", "anxiety", "normal", "active", 1000}},
		{"enqueue pending", "INSERT INTO pending_messages (id, conversation_id, sender_id, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?)", []any{"temp-1", "c1", "p1", "text", "queued", 1000}},
		{"set session data", "INSERT INTO session_data (key, value, updated_at) VALUES (?, ?, ?)", []any{"k", "v", 1000}},
	}

	for _, op := range requiredOps {
		t.Run(op.desc, func(t *testing.T) {
			if _, err := db.Exec(op.query, op.args...); err != nil {
				t.Fatalf("%s failed: %v", op.desc, err)
			}
		})
	}
}

func TestOpenUnavailable(t *testing.T) {
	_, err := Open("/nonexistent-dir/sub/cache.db")
	if err == nil {
		t.Fatal("Open() on unwritable path should fail")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestOpenEphemeral(t *testing.T) {
	db, err := OpenEphemeral()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "hi", Status: "received", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
}

func TestMessageUpsertIdempotent(t *testing.T) {
	db := testDB(t)

	msg := &Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "hello", Status: "received", CreatedAt: 1000}
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	// Upsert again should not create a duplicate.
	msg.Content = "hello updated"
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Content != "hello updated" {
		t.Errorf("content = %q, want hello updated", msgs[0].Content)
	}
}

func TestListMessagesCreationOrder(t *testing.T) {
	db := testDB(t)

	// Insert in arbitrary write order; reads must come back by created_at.
	for _, m := range []Message{
		{ID: "m3", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "three", Status: "received", CreatedAt: 3000},
		{ID: "m1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "one", Status: "received", CreatedAt: 1000},
		{ID: "m2", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "two", Status: "received", CreatedAt: 2000},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q", i, msgs[i].ID, want)
		}
	}
}

func TestDeleteMessageIdempotent(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "bye", Status: "received", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}
	if err := db.DeleteMessage("m1"); err != nil {
		t.Fatal(err)
	}
	// Deleting again must not error.
	if err := db.DeleteMessage("m1"); err != nil {
		t.Errorf("second DeleteMessage error = %v", err)
	}

	m, err := db.GetMessage("m1")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Error("message still present after delete")
	}
}

func TestSetMessageStatusFollowsMachine(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertMessage(&Message{ID: "temp-1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "hi", Status: "sending", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	if err := db.SetMessageStatus("temp-1", "pending"); err != nil {
		t.Fatalf("sending->pending error = %v", err)
	}
	// Re-parking an already pending message must stay a no-op.
	if err := db.SetMessageStatus("temp-1", "pending"); err != nil {
		t.Errorf("pending->pending error = %v, want nil", err)
	}
	if err := db.SetMessageStatus("temp-1", "sent"); err != nil {
		t.Fatalf("pending->sent error = %v", err)
	}

	// Sent is terminal.
	for _, to := range []string{"sending", "pending", "error"} {
		if err := db.SetMessageStatus("temp-1", to); err == nil {
			t.Errorf("sent->%s accepted, want error", to)
		}
	}
	m, err := db.GetMessage("temp-1")
	if err != nil {
		t.Fatal(err)
	}
	if m.Status != "sent" {
		t.Errorf("status = %q, want sent", m.Status)
	}

	if err := db.SetMessageStatus("temp-1", "delivered"); err == nil {
		t.Error("unknown status accepted, want error")
	}
	// A row collapsed away by the other race arm is gone by the time
	// the loser writes its status. That write must not error.
	if err := db.SetMessageStatus("temp-gone", "error"); err != nil {
		t.Errorf("missing row error = %v, want nil", err)
	}
}

func TestReplaceMessageCollapsesTemp(t *testing.T) {
	db := testDB(t)

	temp := &Message{ID: "temp-100-ab", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "hello", Status: "sending", CreatedAt: 1000}
	if err := db.UpsertMessage(temp); err != nil {
		t.Fatal(err)
	}

	durable := &Message{ID: "srv-1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "hello", Status: "sent", CreatedAt: 1000}
	if err := db.ReplaceMessage(temp.ID, durable); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("c1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (temp and durable must never coexist)", len(msgs))
	}
	if msgs[0].ID != "srv-1" || msgs[0].Status != "sent" {
		t.Errorf("message = %+v, want id srv-1 status sent", msgs[0])
	}

	// Replacing again (duplicate confirmation) must converge to the same row.
	if err := db.ReplaceMessage(temp.ID, durable); err != nil {
		t.Fatal(err)
	}
	msgs, _ = db.ListMessages("c1", 0)
	if len(msgs) != 1 {
		t.Fatalf("got %d messages after duplicate replace, want 1", len(msgs))
	}
}

func TestFindPendingByContent(t *testing.T) {
	db := testDB(t)

	// Two identical pending messages: the oldest must match first.
	for _, m := range []Message{
		{ID: "temp-2", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "ok", Status: "pending", CreatedAt: 2000},
		{ID: "temp-1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "ok", Status: "pending", CreatedAt: 1000},
		{ID: "srv-9", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "ok", Status: "sent", CreatedAt: 500},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	m, err := db.FindPendingByContent("c1", "u1", "text", "ok")
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || m.ID != "temp-1" {
		t.Errorf("got %v, want temp-1 (oldest pending)", m)
	}

	// No match for different content.
	m, err = db.FindPendingByContent("c1", "u1", "text", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if m != nil {
		t.Errorf("expected nil for unmatched content, got %v", m)
	}
}

func TestListStuckOutbound(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		{ID: "temp-1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "stuck", Status: "sending", CreatedAt: 1000},
		{ID: "temp-2", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "queued", Status: "pending", CreatedAt: 2000},
		{ID: "srv-1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "done", Status: "sent", CreatedAt: 3000},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	stuck, err := db.ListStuckOutbound()
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].ID != "temp-1" {
		t.Errorf("stuck = %v, want exactly temp-1", stuck)
	}
}

func TestConversationUpsertAndList(t *testing.T) {
	db := testDB(t)

	conv := &Conversation{ID: "c1", PatientID: "p1", CounselorID: "", Topic: "anxiety", Urgency: "high", Status: "active", CreatedAt: 1000}
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	// Counselor gets assigned later; refresh must update in place.
	conv.CounselorID = "co1"
	if err := db.UpsertConversation(conv); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversationsByParticipant("p1", "patient")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].CounselorID != "co1" {
		t.Errorf("counselor_id = %q, want co1", convs[0].CounselorID)
	}

	convs, err = db.ListConversationsByParticipant("co1", "counselor")
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Errorf("counselor index lookup got %d conversations, want 1", len(convs))
	}
}

func TestPendingQueue(t *testing.T) {
	db := testDB(t)

	for _, p := range []PendingMessage{
		{ID: "temp-2", ConversationID: "c1", SenderID: "p1", Kind: "text", Content: "second", CreatedAt: 2000},
		{ID: "temp-1", ConversationID: "c1", SenderID: "p1", Kind: "text", Content: "first", CreatedAt: 1000},
	} {
		if err := db.EnqueuePending(&p); err != nil {
			t.Fatal(err)
		}
	}

	// Re-enqueue of an existing id must be a no-op.
	if err := db.EnqueuePending(&PendingMessage{ID: "temp-1", ConversationID: "c1", SenderID: "p1", Kind: "text", Content: "first", CreatedAt: 1000}); err != nil {
		t.Fatal(err)
	}

	entries, err := db.PendingQueue()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != "temp-1" || entries[1].ID != "temp-2" {
		t.Errorf("queue order = [%s %s], want [temp-1 temp-2]", entries[0].ID, entries[1].ID)
	}

	if err := db.IncrementRetry("temp-1"); err != nil {
		t.Fatal(err)
	}
	entries, _ = db.PendingQueue()
	if entries[0].RetryCount != 1 {
		t.Errorf("retry_count = %d, want 1", entries[0].RetryCount)
	}

	n, err := db.PendingCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("PendingCount = %d, want 2", n)
	}

	if err := db.RemovePending("temp-1"); err != nil {
		t.Fatal(err)
	}
	// Removing an absent id is a no-op.
	if err := db.RemovePending("temp-1"); err != nil {
		t.Errorf("second RemovePending error = %v", err)
	}
	n, _ = db.PendingCount()
	if n != 1 {
		t.Errorf("PendingCount after remove = %d, want 1", n)
	}
}

func TestMarkConversationRead(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		{ID: "m1", ConversationID: "c1", SenderID: "other", Kind: "text", Content: "hi", Status: "received", CreatedAt: 1000},
		{ID: "m2", ConversationID: "c1", SenderID: "me", Kind: "text", Content: "yo", Status: "sent", CreatedAt: 2000},
	} {
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	if err := db.MarkConversationRead("c1", "me", 5000); err != nil {
		t.Fatal(err)
	}

	m1, _ := db.GetMessage("m1")
	if m1.ReadAt != 5000 {
		t.Errorf("counterpart message read_at = %d, want 5000", m1.ReadAt)
	}
	m2, _ := db.GetMessage("m2")
	if m2.ReadAt != 0 {
		t.Errorf("own message read_at = %d, want 0 (reader never reads own)", m2.ReadAt)
	}
}

func TestSessionData(t *testing.T) {
	db := testDB(t)

	if err := db.PutSessionValue("user_id", "p1"); err != nil {
		t.Fatal(err)
	}
	v, err := db.GetSessionValue("user_id")
	if err != nil {
		t.Fatal(err)
	}
	if v != "p1" {
		t.Errorf("value = %q, want p1", v)
	}

	v, err = db.GetSessionValue("missing")
	if err != nil {
		t.Fatal(err)
	}
	if v != "" {
		t.Errorf("missing key = %q, want empty", v)
	}
}

func TestClearOfflineData(t *testing.T) {
	db := testDB(t)

	_ = db.UpsertMessage(&Message{ID: "m1", ConversationID: "c1", SenderID: "u1", Kind: "text", Content: "x", Status: "received", CreatedAt: 1000})
	_ = db.UpsertConversation(&Conversation{ID: "c1", PatientID: "p1", CreatedAt: 1000})
	_ = db.EnqueuePending(&PendingMessage{ID: "temp-1", ConversationID: "c1", SenderID: "p1", Kind: "text", Content: "q", CreatedAt: 1000})
	_ = db.PutSessionValue("k", "v")

	if err := db.ClearOfflineData(); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListMessages("c1", 0)
	if len(msgs) != 0 {
		t.Error("messages not cleared")
	}
	n, _ := db.PendingCount()
	if n != 0 {
		t.Error("pending queue not cleared")
	}
	v, _ := db.GetSessionValue("k")
	if v != "" {
		t.Error("session data not cleared")
	}
}
