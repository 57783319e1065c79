package gamify

import (
	"testing"

	"tradefloor/internal/events"
)

func TestLevelFor(t *testing.T) {
	tests := []struct {
		xp    int
		level int
	}{
		{0, 0},
		{99, 0},
		{100, 1},
		{299, 1},
		{300, 2},  // 100 + 200
		{600, 3},  // 100 + 200 + 300
		{1000, 4}, // 100 + 200 + 300 + 400
	}
	for _, tt := range tests {
		if got := LevelFor(tt.xp); got != tt.level {
			t.Errorf("LevelFor(%d) = %d, want %d", tt.xp, got, tt.level)
		}
	}
}

func TestTracker_AwardAndLevelUp(t *testing.T) {
	bus := events.NewBus()

	var xpEvents []events.XPChanged
	var levelEvents []events.LevelUp
	bus.Subscribe(events.TopicXPChanged, func(p any) {
		xpEvents = append(xpEvents, p.(events.XPChanged))
	})
	bus.Subscribe(events.TopicLevelUp, func(p any) {
		levelEvents = append(levelEvents, p.(events.LevelUp))
	})

	tracker := NewTracker(bus, nil, 90, 0)

	// 90 + 15 = 105 crosses the level-1 threshold.
	tracker.AwardMessage()

	if len(xpEvents) != 1 || xpEvents[0].Total != 105 || xpEvents[0].Delta != XPPerMessage {
		t.Errorf("unexpected xp events %+v", xpEvents)
	}
	if len(levelEvents) != 1 || levelEvents[0].Level != 1 {
		t.Fatalf("expected exactly one level-up to 1, got %+v", levelEvents)
	}

	// Another award stays within level 1: no second level-up.
	tracker.AwardMessage()
	if len(levelEvents) != 1 {
		t.Errorf("level-up fired again without a threshold crossing: %+v", levelEvents)
	}

	xp, level := tracker.Progress()
	if xp != 120 || level != 1 {
		t.Errorf("Progress() = %d, %d", xp, level)
	}
}
