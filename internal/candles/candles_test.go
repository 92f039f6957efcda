package candles

import (
	"slices"
	"testing"
	"time"

	"github.com/oszuidwest/zwfm-candles/internal/types"
)

func TestExtinguishNext(t *testing.T) {
	c := New(3)
	for want := range 3 {
		got, ok := c.ExtinguishNext()
		if !ok || got != want {
			t.Fatalf("ExtinguishNext() = %d, %v; want %d, true", got, ok, want)
		}
	}
	if got, ok := c.ExtinguishNext(); ok || got != -1 {
		t.Errorf("ExtinguishNext() on dark row = %d, %v; want -1, false", got, ok)
	}
	if c.LitCount() != 0 {
		t.Errorf("LitCount() = %d, want 0", c.LitCount())
	}

	c.Relight()
	if c.LitCount() != 3 || c.NextLit() != 0 {
		t.Errorf("after Relight: lit=%d next=%d", c.LitCount(), c.NextLit())
	}
}

func TestReconcile(t *testing.T) {
	tests := []struct {
		name  string
		in    Candles
		count int
		want  Candles
	}{
		{"none recorded", Candles{false, true, false}, 0, Candles{true, true, true}},
		{"two of three", New(3), 2, Candles{false, false, true}},
		{"all", New(2), 2, Candles{false, false}},
		{"more than candles", New(2), 5, Candles{false, false}},
		{"empty row", Candles{}, 3, Candles{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.in.Clone()
			got := Reconcile(tt.in, tt.count)
			if !slices.Equal(got, tt.want) {
				t.Errorf("Reconcile() = %v, want %v", got, tt.want)
			}
			if !slices.Equal(tt.in, before) {
				t.Errorf("Reconcile() modified its input: %v", tt.in)
			}
			if again := Reconcile(got, tt.count); !slices.Equal(again, got) {
				t.Errorf("Reconcile() not idempotent: %v then %v", got, again)
			}
		})
	}
}

func TestReconcileThirtyCandles(t *testing.T) {
	got := Reconcile(New(30), 5)
	for i, lit := range got {
		if lit != (i >= 5) {
			t.Errorf("candle %d lit = %v", i, lit)
		}
	}
}

func TestScore(t *testing.T) {
	at := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	ev := func(actor, room string) types.BlowEvent {
		return types.BlowEvent{ActorName: actor, Room: room, CreatedAt: at}
	}
	events := []types.BlowEvent{
		ev("Bo", "r"),
		ev("Ann", "r"),
		ev("Ann", "r"),
		ev("Cy", "other"),
		ev("Di", "r"),
		ev("Bo", "r"),
	}

	got := Score(events, "r")
	want := []types.ScoreEntry{
		{ActorName: "Bo", Count: 2},
		{ActorName: "Ann", Count: 2},
		{ActorName: "Di", Count: 1},
	}
	if !slices.Equal(got, want) {
		t.Errorf("Score() = %v, want %v", got, want)
	}

	if empty := Score(nil, "r"); empty == nil || len(empty) != 0 {
		t.Errorf("Score(nil) = %#v, want empty slice", empty)
	}
}

func TestArrivalOrder(t *testing.T) {
	newest := []types.BlowEvent{{ID: "3"}, {ID: "2"}, {ID: "1"}}
	got := ArrivalOrder(newest)
	if got[0].ID != "1" || got[2].ID != "3" {
		t.Errorf("ArrivalOrder() = %v", got)
	}
	if newest[0].ID != "3" {
		t.Error("ArrivalOrder() modified its input")
	}
}
