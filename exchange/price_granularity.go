package exchange

import (
	"math"
	"strconv"
	"strings"

	"github.com/prebid/prebid-exchange/openrtb_ext"
)

const (
	defaultPrecision = 2
	// Bucket indexes are rounded to this many places before flooring, so that 5.72/0.01 lands on 572.
	bucketRoundingPlaces = 6
)

// GetPriceBucket is the externally facing function for computing CPM buckets.
//
// The cpm is rounded down to the increment of the first range whose max covers it.
// Prices above the last range clamp to the ceiling. A granularity with no ranges yields "".
func GetPriceBucket(cpm float64, config openrtb_ext.PriceGranularity) string {
	if len(config.Ranges) == 0 {
		return ""
	}
	if cpm < 0 {
		cpm = 0
	}

	rangeMin := 0.0
	for _, bucket := range config.Ranges {
		if cpm <= bucket.Max {
			if bucket.Increment <= 0 {
				return ""
			}
			precision := bucketPrecision(config.Precision, bucket.Increment)
			steps := math.Floor(roundTo((cpm-rangeMin)/bucket.Increment, bucketRoundingPlaces))
			return strconv.FormatFloat(rangeMin+steps*bucket.Increment, 'f', precision, 64)
		}
		rangeMin = bucket.Max
	}

	ceiling := config.Ranges[len(config.Ranges)-1]
	return strconv.FormatFloat(ceiling.Max, 'f', bucketPrecision(config.Precision, ceiling.Increment), 64)
}

func bucketPrecision(configured int, increment float64) int {
	if configured > 0 {
		return configured
	}
	precision := decimalPlaces(increment)
	if precision < defaultPrecision {
		return defaultPrecision
	}
	return precision
}

func decimalPlaces(value float64) int {
	formatted := strconv.FormatFloat(value, 'f', -1, 64)
	if dot := strings.IndexByte(formatted, '.'); dot >= 0 {
		return len(formatted) - dot - 1
	}
	return 0
}

func roundTo(value float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(value*pow) / pow
}
