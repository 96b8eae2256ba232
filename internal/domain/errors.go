package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDataUnavailable means the provider or store has nothing for an
	// instrument. The instrument is excluded from the run.
	ErrDataUnavailable = errors.New("data unavailable")
	// ErrInsufficientHistory marks a factor score as missing.
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrDegenerateSeries    = errors.New("degenerate series: need at least two observations")
	ErrMissingPrice        = errors.New("missing price for held instrument")
)

type MissingDataError struct {
	Symbol string
	Date   time.Time
	Err    error
}

func (e MissingDataError) Error() string {
	return fmt.Sprintf("%s on %s: %s", e.Symbol, e.Date.Format(time.DateOnly), e.Err.Error())
}

func (e MissingDataError) Unwrap() error {
	return e.Err
}

// ConfigError is a fatal startup problem with the run configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e ConfigError) Error() string {
	if e.Field == "" {
		return "invalid configuration: " + e.Message
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Message)
}

func NewConfigError(field, format string, args ...any) error {
	return ConfigError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
	}
}

func IsConfigError(err error) bool {
	var ce ConfigError
	return errors.As(err, &ce)
}
