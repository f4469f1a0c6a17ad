package tripwire

import "fmt"

// MalformedCandleError is returned by a Calculator when an input candle
// fails the high>=low / close,open-in-range structural check. The engine
// rejects the symbol for the current cycle and emits a diagnostic event
// rather than propagating the error further.
type MalformedCandleError struct {
	Symbol string
}

func (e *MalformedCandleError) Error() string {
	return fmt.Sprintf("tripwire: malformed candle for %s", e.Symbol)
}

func errMalformedCandle(symbol string) error {
	return &MalformedCandleError{Symbol: symbol}
}
