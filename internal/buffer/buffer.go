package buffer

import (
	"sort"
	"sync"
	"time"

	"tradefloor/internal/models"

	"github.com/google/uuid"
)

// DupWindow is the timestamp window within which two messages with
// identical content and sender are treated as the same logical
// message. The confirmation for a send can arrive both through the
// send response and through a broadcast, with no shared transaction
// id between them, so an id match alone is not enough.
const DupWindow = 3 * time.Second

type entry struct {
	msg models.Message
	seq int64
}

// Buffer holds the locally authored, not-yet-confirmed messages
// alongside server-confirmed messages in one ordered view. Ordering
// is by timestamp ascending, ties broken by insertion order.
//
// All mutation goes through Append/Replace/Merge/Tombstone/Remove so
// the duplicate-suppression invariant cannot be bypassed.
type Buffer struct {
	entries []entry
	nextSeq int64

	mux sync.RWMutex
}

func New() *Buffer {
	return &Buffer{}
}

// Append inserts a message, assigning it a temporary identifier if
// the caller has not supplied a server-confirmed one. It returns the
// stored message and whether it was actually inserted; a duplicate of
// an existing entry is discarded.
func (b *Buffer) Append(msg models.Message) (models.Message, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()

	if msg.ID == "" {
		msg.ID = models.TempIDPrefix + uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	if b.isDuplicate(msg) {
		return msg, false
	}

	b.insert(msg)
	return msg, true
}

// Replace swaps the temporary entry for its confirmed counterpart in
// place, preserving position. It returns false if no entry with
// tempID exists.
func (b *Buffer) Replace(tempID string, confirmed models.Message) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	for i := range b.entries {
		if b.entries[i].msg.ID == tempID {
			b.entries[i].msg = confirmed
			return true
		}
	}
	return false
}

// Confirm reconciles a server-issued record against its optimistic
// placeholder and replaces it in place: by temporary id first, then
// by a content/sender/time-window fallback for confirmations whose id
// cannot be correlated directly. Racy under rapid identical sends
// from the same user; kept as observed behavior.
func (b *Buffer) Confirm(tempID string, confirmed models.Message) bool {
	if b.Replace(tempID, confirmed) {
		return true
	}

	b.mux.Lock()
	defer b.mux.Unlock()

	for i := range b.entries {
		existing := b.entries[i].msg
		if existing.IsTemp() &&
			existing.Content == confirmed.Content &&
			existing.Sender.ID == confirmed.Sender.ID &&
			absDiff(existing.Timestamp, confirmed.Timestamp) < DupWindow {
			b.entries[i].msg = confirmed
			return true
		}
	}
	return false
}

// Merge folds a bulk candidate list (a delta poll or full refresh)
// into the buffer and returns the subset that was not already present.
// It is idempotent: feeding the same list twice is a no-op the second
// time.
func (b *Buffer) Merge(candidates []models.Message) []models.Message {
	b.mux.Lock()
	defer b.mux.Unlock()

	var added []models.Message
	for _, msg := range candidates {
		if msg.ID == "" || b.isDuplicate(msg) {
			continue
		}
		b.insert(msg)
		added = append(added, msg)
	}
	return added
}

// Tombstone rewrites the entry's content with the deletion marker and
// returns the previous content so a failed delete can be rolled back.
func (b *Buffer) Tombstone(id string) (string, bool) {
	b.mux.Lock()
	defer b.mux.Unlock()

	for i := range b.entries {
		if b.entries[i].msg.ID == id {
			original := b.entries[i].msg.Content
			b.entries[i].msg.Content = models.Tombstone
			b.entries[i].msg.IsDeleted = true
			b.entries[i].msg.File = nil
			return original, true
		}
	}
	return "", false
}

// Restore undoes a tombstone after a failed delete.
func (b *Buffer) Restore(id, content string) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	for i := range b.entries {
		if b.entries[i].msg.ID == id {
			b.entries[i].msg.Content = content
			b.entries[i].msg.IsDeleted = false
			return true
		}
	}
	return false
}

// Remove drops the entry from the visible list. Callers schedule this
// after the tombstone grace period, never immediately on delete.
func (b *Buffer) Remove(id string) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	for i := range b.entries {
		if b.entries[i].msg.ID == id {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the message with the given id.
func (b *Buffer) Get(id string) (models.Message, bool) {
	b.mux.RLock()
	defer b.mux.RUnlock()

	for i := range b.entries {
		if b.entries[i].msg.ID == id {
			return b.entries[i].msg, true
		}
	}
	return models.Message{}, false
}

// Contains reports whether an entry with the given id exists.
func (b *Buffer) Contains(id string) bool {
	_, ok := b.Get(id)
	return ok
}

// Messages returns a copy of the ordered message list.
func (b *Buffer) Messages() []models.Message {
	b.mux.RLock()
	defer b.mux.RUnlock()

	out := make([]models.Message, len(b.entries))
	for i := range b.entries {
		out[i] = b.entries[i].msg
	}
	return out
}

func (b *Buffer) Len() int {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return len(b.entries)
}

// isDuplicate applies the suppression rule: an id match, or failing
// that an existing entry with identical content and sender within
// DupWindow of the candidate. Callers must hold the lock.
func (b *Buffer) isDuplicate(msg models.Message) bool {
	for i := range b.entries {
		if b.entries[i].msg.ID == msg.ID {
			return true
		}
	}
	for i := range b.entries {
		existing := b.entries[i].msg
		if existing.Content == msg.Content &&
			existing.Sender.ID == msg.Sender.ID &&
			absDiff(existing.Timestamp, msg.Timestamp) < DupWindow {
			return true
		}
	}
	return false
}

func (b *Buffer) insert(msg models.Message) {
	b.entries = append(b.entries, entry{msg: msg, seq: b.nextSeq})
	b.nextSeq++

	sort.SliceStable(b.entries, func(i, j int) bool {
		ti, tj := b.entries[i].msg.Timestamp, b.entries[j].msg.Timestamp
		if ti.Equal(tj) {
			return b.entries[i].seq < b.entries[j].seq
		}
		return ti.Before(tj)
	})
}

func absDiff(a, b time.Time) time.Duration {
	d := a.Sub(b)
	if d < 0 {
		return -d
	}
	return d
}
