package game

import (
	"testing"

	"github.com/Sophie-Williams/BerryBots/internal/config"
)

func TestGfxTrackerDropsWhenFull(t *testing.T) {
	cfg := config.DefaultGfx()
	cfg.MaxLaserHits = 2
	cfg.MaxShipDeaths = 1
	g := NewGfxTracker(cfg)

	for i := 0; i < 4; i++ {
		g.HandleEvent(Event{Tick: 1, Type: EventLaserHitShip, Payload: LaserHitShipPayload{Ship: 0, Target: 1}})
	}
	for i := 0; i < 2; i++ {
		g.HandleEvent(Event{Tick: 1, Type: EventShipDestroyed, Payload: ShipDestroyedPayload{Ship: i}})
	}
	g.HandleEvent(Event{Tick: 1, Type: EventLaserFired, Payload: LaserFiredPayload{LaserID: 3}})

	if g.Len() != 3 {
		t.Errorf("Len = %d, want 3", g.Len())
	}
	if g.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", g.Dropped())
	}

	var snap GfxSnapshot
	g.SnapshotInto(&snap)
	if len(snap.LaserHits) != 2 || len(snap.Deaths) != 1 || snap.Deaths[0].Ship != 0 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestGfxTrackerExpiresPerKind(t *testing.T) {
	cfg := config.DefaultGfx()
	cfg.LaserHitTicks = 2
	cfg.TorpedoHitTicks = 3
	cfg.BlastTicks = 4
	cfg.DeathTicks = 5
	g := NewGfxTracker(cfg)

	g.HandleEvent(Event{Tick: 10, Type: EventLaserHitShip, Payload: LaserHitShipPayload{Target: 1}})
	g.HandleEvent(Event{Tick: 10, Type: EventTorpedoHitShip, Payload: TorpedoHitShipPayload{Target: 1}})
	g.HandleEvent(Event{Tick: 10, Type: EventTorpedoExploded, Payload: TorpedoExplodedPayload{TorpedoID: 0}})
	g.HandleEvent(Event{Tick: 10, Type: EventShipDestroyed, Payload: ShipDestroyedPayload{Ship: 1}})

	tests := []struct {
		tick                          int
		laser, torpedo, blast, deaths int
	}{
		{tick: 10, laser: 1, torpedo: 1, blast: 1, deaths: 1},
		{tick: 11, laser: 1, torpedo: 1, blast: 1, deaths: 1},
		{tick: 12, laser: 0, torpedo: 1, blast: 1, deaths: 1},
		{tick: 13, laser: 0, torpedo: 0, blast: 1, deaths: 1},
		{tick: 14, laser: 0, torpedo: 0, blast: 0, deaths: 1},
		{tick: 15, laser: 0, torpedo: 0, blast: 0, deaths: 0},
	}
	for _, tt := range tests {
		g.HandleTick(tt.tick, nil)
		var snap GfxSnapshot
		g.SnapshotInto(&snap)
		got := [4]int{len(snap.LaserHits), len(snap.TorpedoHits), len(snap.Blasts), len(snap.Deaths)}
		want := [4]int{tt.laser, tt.torpedo, tt.blast, tt.deaths}
		if got != want {
			t.Errorf("tick %d: live effects %v, want %v", tt.tick, got, want)
		}
	}
}

func TestGfxSnapshotReusesSlices(t *testing.T) {
	g := NewGfxTracker(config.DefaultGfx())
	g.HandleEvent(Event{Tick: 1, Type: EventTorpedoExploded, Payload: TorpedoExplodedPayload{X: 5, Y: 6}})

	snap := GfxSnapshot{Blasts: make([]BlastGfx, 3, 8)}
	g.SnapshotInto(&snap)
	if len(snap.Blasts) != 1 || cap(snap.Blasts) != 8 || snap.Blasts[0].X != 5 {
		t.Errorf("unexpected blasts %+v (cap %d)", snap.Blasts, cap(snap.Blasts))
	}
}
