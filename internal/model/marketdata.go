package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the on-disk date format for daily bars.
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV row for a symbol.
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// ReferencePrice is the price fills and marks are based on.
func (b Bar) ReferencePrice() float64 { return b.Close }

// PriceSeries is the MarketDataProvider shape: symbol -> ordered daily bars.
type PriceSeries map[string][]Bar

// UnmarshalJSON accepts either YYYY-MM-DD or RFC3339 dates.
func (b *Bar) UnmarshalJSON(raw []byte) error {
	var aux struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	if err := json.Unmarshal(raw, &aux); err != nil {
		return err
	}
	d, err := ParseDate(aux.Date)
	if err != nil {
		return err
	}
	*b = Bar{Date: d, Open: aux.Open, High: aux.High, Low: aux.Low, Close: aux.Close, Volume: aux.Volume}
	return nil
}

// MarshalJSON writes the date as YYYY-MM-DD.
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date   string  `json:"date"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}{b.Date.Format(DateLayout), b.Open, b.High, b.Low, b.Close, b.Volume})
}

// ParseDate parses YYYY-MM-DD (or RFC3339) and truncates to a UTC day.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return Day(t), nil
}

// Day normalises t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
