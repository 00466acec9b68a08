package usecase

import "math"

// Progress bands. Upload takes the first 30 points, the first 20 elapsed
// poll units the next 40, and units 20..50 the last 30.
const (
	uploadBand     = 30.0
	earlyPollBand  = 40.0
	latePollBand   = 30.0
	earlyPollUnits = 20
	maxPollUnits   = 50
)

// Progress aggregates upload fraction and elapsed poll units into a 0..100
// percentage.
func Progress(uploadFraction float64, elapsed int) int {
	if math.IsNaN(uploadFraction) || uploadFraction < 0 {
		uploadFraction = 0
	}
	if uploadFraction > 1 {
		uploadFraction = 1
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > maxPollUnits {
		elapsed = maxPollUnits
	}

	up := math.Min(uploadBand, uploadFraction*uploadBand)
	early := math.Min(earlyPollBand, float64(min(elapsed, earlyPollUnits))/earlyPollUnits*earlyPollBand)
	late := math.Min(latePollBand, float64(max(0, elapsed-earlyPollUnits))/float64(maxPollUnits-earlyPollUnits)*latePollBand)

	return int(math.Min(100, math.Round(up+early+late)))
}
