package buffer

import (
	"fmt"
	"testing"
	"time"

	"tradefloor/internal/models"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u1 = models.Sender{ID: "u1", Username: "alice"}
	u2 = models.Sender{ID: "u2", Username: "bob"}
)

func msg(id string, sender models.Sender, content string, ts time.Time) models.Message {
	return models.Message{
		ID:        id,
		ChannelID: "general",
		Content:   content,
		Sender:    sender,
		Timestamp: ts,
	}
}

func TestBuffer_AppendAssignsTempID(t *testing.T) {
	b := New()

	stored, ok := b.Append(msg("", u1, "hi", t0))
	if !ok {
		t.Fatal("append discarded a fresh message")
	}
	if !stored.IsTemp() {
		t.Errorf("expected temp id, got %q", stored.ID)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", b.Len())
	}
}

func TestBuffer_MergeIdempotent(t *testing.T) {
	b := New()

	batch := []models.Message{
		msg("a", u1, "first", t0),
		msg("b", u2, "second", t0.Add(time.Second)),
	}

	added := b.Merge(batch)
	if len(added) != 2 {
		t.Fatalf("expected 2 added, got %d", len(added))
	}

	// Same batch again must be a no-op.
	added = b.Merge(batch)
	if len(added) != 0 {
		t.Errorf("expected 0 added on repeat merge, got %d", len(added))
	}
	if b.Len() != 2 {
		t.Errorf("expected 2 entries, got %d", b.Len())
	}
}

func TestBuffer_MergeNewTail(t *testing.T) {
	b := New()
	b.Merge([]models.Message{
		msg("a", u1, "A", t0),
		msg("b", u2, "B", t0.Add(time.Second)),
	})

	// A delta poll returns the full set plus one unseen message.
	added := b.Merge([]models.Message{
		msg("a", u1, "A", t0),
		msg("b", u2, "B", t0.Add(time.Second)),
		msg("c", u1, "C", t0.Add(2*time.Second)),
	})

	if len(added) != 1 || added[0].ID != "c" {
		t.Fatalf("expected only c added, got %v", added)
	}

	got := b.Messages()
	want := []string{"a", "b", "c"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("index %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestBuffer_DuplicateContentWindow(t *testing.T) {
	b := New()

	b.Append(msg("42", u1, "hello", t0))

	// Same content and sender within the window, different id: this is
	// the broadcast copy of a confirmation and must be suppressed.
	if _, ok := b.Append(msg("push-42", u1, "hello", t0.Add(time.Second))); ok {
		t.Error("duplicate within window was not suppressed")
	}

	// Outside the window it is a genuine repeat message.
	if _, ok := b.Append(msg("43", u1, "hello", t0.Add(5*time.Second))); !ok {
		t.Error("message outside window was suppressed")
	}

	// Different sender inside the window is also genuine.
	if _, ok := b.Append(msg("44", u2, "hello", t0.Add(time.Second))); !ok {
		t.Error("same content from another sender was suppressed")
	}
}

func TestBuffer_ConfirmReplacesInPlace(t *testing.T) {
	b := New()

	b.Merge([]models.Message{msg("a", u2, "before", t0.Add(-time.Minute))})
	temp, _ := b.Append(msg("", u1, "hi", t0))
	b.Merge([]models.Message{msg("z", u2, "after", t0.Add(time.Minute))})

	confirmed := msg("42", u1, "hi", t0.Add(100*time.Millisecond))
	if !b.Confirm(temp.ID, confirmed) {
		t.Fatal("Confirm did not find the temp entry")
	}

	if b.Len() != 3 {
		t.Errorf("expected count unchanged at 3, got %d", b.Len())
	}
	got := b.Messages()
	if got[1].ID != "42" {
		t.Errorf("expected confirmed message at ordinal 1, got %s", got[1].ID)
	}
	if b.Contains(temp.ID) {
		t.Error("temp entry still present after confirmation")
	}
}

func TestBuffer_ConfirmFallbackByContent(t *testing.T) {
	b := New()

	temp, _ := b.Append(msg("", u1, "gm", t0))

	// Confirmation arrives with an id we never learned (e.g. the send
	// response was lost and the broadcast came first).
	confirmed := msg("77", u1, "gm", t0.Add(200*time.Millisecond))
	if !b.Confirm("temp_unknown", confirmed) {
		t.Fatal("fallback match failed")
	}
	if b.Contains(temp.ID) {
		t.Error("temp entry survived fallback confirmation")
	}
	if !b.Contains("77") {
		t.Error("confirmed entry missing")
	}
}

func TestBuffer_TombstoneAndRemove(t *testing.T) {
	b := New()
	b.Merge([]models.Message{msg("a", u1, "delete me", t0)})

	original, ok := b.Tombstone("a")
	if !ok {
		t.Fatal("Tombstone did not find entry")
	}
	if original != "delete me" {
		t.Errorf("expected original content back, got %q", original)
	}

	got, _ := b.Get("a")
	if got.Content != models.Tombstone || !got.IsDeleted {
		t.Errorf("entry not tombstoned: %+v", got)
	}

	// Rollback path (delete failed server-side).
	if !b.Restore("a", original) {
		t.Fatal("Restore failed")
	}
	got, _ = b.Get("a")
	if got.Content != "delete me" || got.IsDeleted {
		t.Errorf("entry not restored: %+v", got)
	}

	// Removal only happens when the grace period elapses; the buffer
	// itself removes on demand.
	if !b.Remove("a") {
		t.Fatal("Remove failed")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d entries", b.Len())
	}
}

func TestBuffer_OrderingTies(t *testing.T) {
	b := New()

	// Same timestamp: insertion order must win.
	for i := 0; i < 5; i++ {
		b.Append(msg(fmt.Sprintf("m%d", i), u1, fmt.Sprintf("msg %d", i), t0.Add(time.Duration(i%2)*10*time.Second)))
	}

	got := b.Messages()
	want := []string{"m0", "m2", "m4", "m1", "m3"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("index %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}
