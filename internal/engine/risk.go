package engine

import (
	"fmt"
	"math"

	"tradesim/internal/domain"
)

// RiskManager enforces the automatic exit rules: stop-loss, take-profit and
// trailing stop. It is stateless; the engines own the high-water marks.
type RiskManager struct {
	stopLossPct     float64
	takeProfitPct   float64
	trailingStopPct float64
}

// NewRiskManager creates a RiskManager with the specified thresholds. Each
// is a fraction of the entry price (e.g. 0.05 for 5%); zero disables it.
func NewRiskManager(stopLossPct, takeProfitPct, trailingStopPct float64) *RiskManager {
	return &RiskManager{
		stopLossPct:     stopLossPct,
		takeProfitPct:   takeProfitPct,
		trailingStopPct: trailingStopPct,
	}
}

// UpdateHWM moves the high-water mark toward the favorable extreme: the
// highest close for a long and the lowest close for a short.
func (rm *RiskManager) UpdateHWM(side domain.PositionSide, hwm, price float64) float64 {
	if side == domain.PositionSideShort {
		return math.Min(hwm, price)
	}
	return math.Max(hwm, price)
}

// CheckExit evaluates the exit rules in priority order (stop-loss, then
// take-profit, then trailing stop) and returns the reason of the first rule
// that triggers.
func (rm *RiskManager) CheckExit(pos *domain.Position, hwm, price float64) (string, bool) {
	if pos == nil || pos.EntryPrice <= 0 {
		return "", false
	}
	ret := (price - pos.EntryPrice) / pos.EntryPrice * pos.Side.Sign()

	if rm.stopLossPct > 0 && ret <= -rm.stopLossPct {
		return fmt.Sprintf("Stop loss triggered at %.2f%%", ret*100), true
	}
	if rm.takeProfitPct > 0 && ret >= rm.takeProfitPct {
		return fmt.Sprintf("Take profit triggered at %.2f%%", ret*100), true
	}
	if rm.trailingStopPct > 0 && hwm > 0 {
		adverse := (hwm - price) / hwm * pos.Side.Sign()
		if adverse >= rm.trailingStopPct {
			return fmt.Sprintf("Trailing stop triggered %.2f%% from %.4g", adverse*100, hwm), true
		}
	}
	return "", false
}
