package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{"2024-03-15", " 2024-03-15 ", "2024-03-15T16:00:00Z"} {
		got, err := ParseDate(in)
		if err != nil {
			t.Fatalf("ParseDate(%q): %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParseDate("15/03/2024"); err == nil {
		t.Error("expected error for unsupported layout")
	}
}

func TestBar_JSONDate(t *testing.T) {
	var b Bar
	if err := json.Unmarshal([]byte(`{"date":"2024-01-02","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}`), &b); err != nil {
		t.Fatal(err)
	}
	if b.Date.Format(DateLayout) != "2024-01-02" || b.Close != 1.5 {
		t.Errorf("unexpected bar %+v", b)
	}
	out, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(out); got != `{"date":"2024-01-02","open":1,"high":2,"low":0.5,"close":1.5,"volume":100}` {
		t.Errorf("Marshal = %s", got)
	}
}

func TestPosition_Mark(t *testing.T) {
	p := &Position{Symbol: "AAPL", Quantity: 100, AvgCost: 50}
	at := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	p.Mark(55, at)

	if p.MarketValue != 5500 {
		t.Errorf("MarketValue = %v, want 5500", p.MarketValue)
	}
	if p.UnrealizedPnL != 500 {
		t.Errorf("UnrealizedPnL = %v, want 500", p.UnrealizedPnL)
	}
	if !p.LastUpdate.Equal(at) {
		t.Errorf("LastUpdate = %v, want %v", p.LastUpdate, at)
	}
}
