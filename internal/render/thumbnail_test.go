package render

import (
	"bytes"
	"image/color"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/Sophie-Williams/BerryBots/internal/config"
	"github.com/Sophie-Williams/BerryBots/internal/game"
	"github.com/Sophie-Williams/BerryBots/internal/game/spatial"
)

func sampleThumbnail() *Thumbnail {
	t := NewThumbnail(config.DefaultPhysics())
	t.HandleMatchStart(game.MatchInfo{
		Width:  1000,
		Height: 600,
		Walls:  []spatial.Rect{{Left: 480, Bottom: 0, Width: 40, Height: 100}},
		Ships: []game.ShipInfo{
			{Index: 0, Name: "a", ShipColor: game.RGB{R: 10, G: 200, B: 30}},
			{Index: 1, Name: "b", ShipColor: game.RGB{R: 200, G: 10, B: 30}},
		},
		Teams: []string{"a", "b"},
	})
	t.HandleEvent(game.Event{Type: game.EventLaserFired, Tick: 4, Payload: game.LaserFiredPayload{LaserID: 0, FireTime: 4, X: 700, Y: 500}})
	t.HandleTick(5, []game.ShipState{
		{Index: 0, X: 100, Y: 100, Alive: true},
		{Index: 1, X: 900, Y: 500, Alive: false},
	})
	return t
}

func TestThumbnailImage(t *testing.T) {
	img, err := sampleThumbnail().Image(400)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 400 || b.Dy() != 240 {
		t.Fatalf("bounds = %v, want 400x240", b)
	}

	tests := []struct {
		name string
		x, y int
		want color.RGBA
	}{
		{"ship body", 40, 201, color.RGBA{10, 200, 30, 255}},
		{"wall", 200, 220, wallColor},
		{"empty space", 300, 100, backgroundColor},
	}
	for _, tt := range tests {
		got := color.RGBAModel.Convert(img.At(tt.x, tt.y)).(color.RGBA)
		if got != tt.want {
			t.Errorf("%s at (%d,%d) = %v, want %v", tt.name, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestThumbnailForgetsDestroyedProjectiles(t *testing.T) {
	th := sampleThumbnail()
	if len(th.lasers) != 1 {
		t.Fatalf("lasers = %d, want 1", len(th.lasers))
	}
	th.HandleEvent(game.Event{Type: game.EventLaserDestroyed, Tick: 6, Payload: game.LaserDestroyedPayload{LaserID: 0}})
	if len(th.lasers) != 0 {
		t.Errorf("lasers = %d after destroy, want 0", len(th.lasers))
	}
}

func TestThumbnailKeepsLatestText(t *testing.T) {
	th := sampleThumbnail()
	th.HandleEvent(game.Event{Type: game.EventStageText, Tick: 5, Payload: game.StageTextPayload{Text: "one"}})
	th.HandleEvent(game.Event{Type: game.EventStageText, Tick: 5, Payload: game.StageTextPayload{Text: "two"}})
	th.HandleEvent(game.Event{Type: game.EventStageText, Tick: 6, Payload: game.StageTextPayload{Text: "three"}})
	if len(th.texts) != 1 || th.texts[0].Text != "three" {
		t.Errorf("texts = %+v", th.texts)
	}
}

func TestThumbnailPNG(t *testing.T) {
	th := sampleThumbnail()

	var buf bytes.Buffer
	if err := th.WritePNG(&buf, 200); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 200 || b.Dy() != 120 {
		t.Errorf("bounds = %v", b)
	}

	path := filepath.Join(t.TempDir(), "final.png")
	if err := th.SavePNG(path, 100); err != nil {
		t.Fatal(err)
	}
}

func TestThumbnailErrors(t *testing.T) {
	if _, err := NewThumbnail(config.DefaultPhysics()).Image(100); err == nil {
		t.Error("expected error without a stage")
	}
	if _, err := sampleThumbnail().Image(0); err == nil {
		t.Error("expected error for zero width")
	}
}
