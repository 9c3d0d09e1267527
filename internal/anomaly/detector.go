package anomaly

import (
	"fmt"
	"math"
)

// Detector flags confirmed values that drift too far from the extracted reading
type Detector struct {
	maxDeviation float64
}

// NewDetector creates a detector allowing confirmed values within
// maxDeviation (a fraction, 0.10 = 10%) of the initial value.
// A non-positive maxDeviation disables the deviation check.
func NewDetector(maxDeviation float64) *Detector {
	return &Detector{maxDeviation: maxDeviation}
}

// Enabled reports whether deviation checks are active
func (d *Detector) Enabled() bool {
	return d.maxDeviation > 0
}

// DetectDeviation checks a confirmed value against the initial reading
func (d *Detector) DetectDeviation(initialValue, confirmedValue float64) (bool, string) {
	if confirmedValue < 0 {
		return true, "negative value"
	}

	if !d.Enabled() {
		return false, ""
	}

	// a zero reading gives no baseline to compare against
	if initialValue == 0 {
		return false, ""
	}

	deviation := math.Abs(confirmedValue-initialValue) / math.Abs(initialValue)
	if deviation > d.maxDeviation {
		return true, fmt.Sprintf("confirmed value %.2f deviates %.1f%% from initial value %.2f (maximum %.1f%%)",
			confirmedValue, deviation*100, initialValue, d.maxDeviation*100)
	}

	return false, ""
}
