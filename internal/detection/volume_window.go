package detection

import (
	"time"

	"github.com/titan-scanner/core/pkg/types"
)

// WindowStatus is the outcome of testing one trade against an open volume
// window.
type WindowStatus int

const (
	// WindowCounted means the trade falls inside the window and was
	// counted toward the threshold.
	WindowCounted WindowStatus = iota
	// WindowExpired means the trade arrived at or after the window's end
	// and the window must be reset.
	WindowExpired
)

// EvaluateWindow tests trade against counter using exchange timestamps, not
// local receipt time, per §4.2's concurrency guarantee. The window is
// closed on start and open on end: a trade whose timestamp equals
// start+window does not count, it expires the window.
func EvaluateWindow(counter types.VolumeCounter, trade types.Trade, window time.Duration) (types.VolumeCounter, WindowStatus) {
	end := counter.WindowStart.Add(window)
	if !trade.Timestamp.Before(end) {
		return types.VolumeCounter{}, WindowExpired
	}
	counter.Count++
	return counter, WindowCounted
}

// ThresholdMet reports whether counter has accumulated enough matching
// trades to validate a CANDIDATE.
func ThresholdMet(counter types.VolumeCounter, minTrades int) bool {
	return counter.Count >= minTrades
}
