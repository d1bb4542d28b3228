package engine

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors through errors.Is.
var (
	ErrInsufficientData = errors.New("insufficient data")
	ErrInvalidParam     = errors.New("invalid parameter")
)

// InsufficientDataError reports a candle series shorter than the strategy's
// warmup period.
type InsufficientDataError struct {
	Symbol    string
	Required  int
	Available int
}

func (e *InsufficientDataError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("insufficient data: need %d candles, have %d", e.Required, e.Available)
	}
	return fmt.Sprintf("insufficient data for %s: need %d candles, have %d", e.Symbol, e.Required, e.Available)
}

// Is matches ErrInsufficientData.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// InvalidParamError reports an unusable configuration value or input.
type InvalidParamError struct {
	Name   string
	Reason string
}

func (e *InvalidParamError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Name, e.Reason)
}

// Is matches ErrInvalidParam.
func (e *InvalidParamError) Is(target error) bool {
	return target == ErrInvalidParam
}

func invalidParam(name, format string, args ...any) error {
	return &InvalidParamError{Name: name, Reason: fmt.Sprintf(format, args...)}
}
