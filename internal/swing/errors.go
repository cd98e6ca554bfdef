package swing

import (
	"fmt"
	"time"
)

// SequenceError reports a candle whose timestamp does not strictly follow
// the previous one. The candle is rejected and state is unchanged.
type SequenceError struct {
	Prev time.Time
	Got  time.Time
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("swing: candle at %s does not follow %s",
		e.Got.Format(time.RFC3339Nano), e.Prev.Format(time.RFC3339Nano))
}

// InvalidCandleError reports a candle with inconsistent prices.
type InvalidCandleError struct {
	At               time.Time
	High, Low, Close float64
	Reason           string
}

func (e *InvalidCandleError) Error() string {
	return fmt.Sprintf("swing: invalid candle at %s (high=%g low=%g close=%g): %s",
		e.At.Format(time.RFC3339Nano), e.High, e.Low, e.Close, e.Reason)
}

// SnapshotFormatError reports a snapshot that cannot be restored.
// Unpack leaves the tracker untouched when it returns this error.
type SnapshotFormatError struct {
	Reason string
	Err    error
}

func (e *SnapshotFormatError) Error() string {
	if e.Err != nil {
		return "swing: bad snapshot: " + e.Reason + ": " + e.Err.Error()
	}
	return "swing: bad snapshot: " + e.Reason
}

func (e *SnapshotFormatError) Unwrap() error { return e.Err }

func snapshotErr(format string, args ...any) error {
	return &SnapshotFormatError{Reason: fmt.Sprintf(format, args...)}
}
