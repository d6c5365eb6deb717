package utils

import (
	"fmt"
	"math/rand"
	"time"

	"txledger/internal/config"
	"txledger/internal/types"
)

// RandomIntInRange returns a random integer within the range [min, max]
func RandomIntInRange(min, max int) int {
	if min > max {
		min, max = max, min
	}
	if min == max {
		return min
	}
	return rand.Intn(max-min+1) + min
}

// RandomDuration returns a random time.Duration based on the config DelayRange
func RandomDuration(delayRange config.DelayRange) (time.Duration, error) {
	randomVal := RandomIntInRange(delayRange.Min, delayRange.Max)
	switch delayRange.Unit {
	case types.TimeUnitMilliseconds:
		return time.Duration(randomVal) * time.Millisecond, nil
	case types.TimeUnitSeconds:
		return time.Duration(randomVal) * time.Second, nil
	case types.TimeUnitMinutes:
		return time.Duration(randomVal) * time.Minute, nil
	default:
		return 0, fmt.Errorf("unknown delay unit: %s", delayRange.Unit)
	}
}
