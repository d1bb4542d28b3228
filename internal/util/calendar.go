package util

import (
	"fmt"
	"time"
)

// Trading-calendar approximations for annualizing per-bar statistics.
const (
	TradingDaysPerYear  = 252
	TradingHoursPerDay  = 6.5
	TradingWeeksPerYear = 52
)

// BarsPerYear returns the number of bars of interval in a trading year.
// Supported intervals: 1d, 1wk, 1mo, 1h.
func BarsPerYear(interval string) (float64, error) {
	switch interval {
	case "1d", "":
		return TradingDaysPerYear, nil
	case "1wk":
		return TradingWeeksPerYear, nil
	case "1mo":
		return 12, nil
	case "1h":
		return TradingDaysPerYear * TradingHoursPerDay, nil
	}
	return 0, fmt.Errorf("unknown interval %q", interval)
}

// IntervalDuration returns the nominal length of one bar of interval.
func IntervalDuration(interval string) (time.Duration, error) {
	switch interval {
	case "1d", "":
		return 24 * time.Hour, nil
	case "1wk":
		return 7 * 24 * time.Hour, nil
	case "1mo":
		return 30 * 24 * time.Hour, nil
	case "1h":
		return time.Hour, nil
	}
	return 0, fmt.Errorf("unknown interval %q", interval)
}
