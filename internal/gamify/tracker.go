package gamify

import (
	"log/slog"
	"sync"

	"tradefloor/internal/events"
)

// XPPerMessage is awarded for each confirmed self-authored send.
const XPPerMessage = 15

type progressStore interface {
	SaveXP(xp, level int) error
}

// Tracker accumulates the viewer's XP and publishes xp-changed and
// level-up events on the bus instead of raising ambient global
// events.
type Tracker struct {
	bus   *events.Bus
	store progressStore

	mu    sync.Mutex
	xp    int
	level int
}

func NewTracker(bus *events.Bus, store progressStore, xp, level int) *Tracker {
	if level < LevelFor(xp) {
		level = LevelFor(xp)
	}
	return &Tracker{bus: bus, store: store, xp: xp, level: level}
}

// LevelFor maps cumulative XP to a level. Each level N requires
// N*100 XP on top of the previous one.
func LevelFor(xp int) int {
	level := 0
	need := 100
	for xp >= need {
		xp -= need
		level++
		need = (level + 1) * 100
	}
	return level
}

// AwardMessage grants the per-message XP, persists progress, and
// fires events. A level threshold crossing fires level-up exactly
// once.
func (t *Tracker) AwardMessage() {
	t.award(XPPerMessage)
}

func (t *Tracker) award(delta int) {
	t.mu.Lock()
	t.xp += delta
	total := t.xp
	newLevel := LevelFor(total)
	leveled := newLevel > t.level
	if leveled {
		t.level = newLevel
	}
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveXP(total, newLevel); err != nil {
			slog.Warn("failed to persist xp progress", "error", err)
		}
	}

	t.bus.Publish(events.TopicXPChanged, events.XPChanged{Total: total, Delta: delta})
	if leveled {
		t.bus.Publish(events.TopicLevelUp, events.LevelUp{Level: newLevel})
	}
}

// Progress returns the current XP total and level.
func (t *Tracker) Progress() (xp, level int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.xp, t.level
}
