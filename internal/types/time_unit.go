package types

// TimeUnit defines the units for time delays.
type TimeUnit string

const (
	TimeUnitMilliseconds TimeUnit = "milliseconds"
	TimeUnitSeconds      TimeUnit = "seconds"
	TimeUnitMinutes      TimeUnit = "minutes"
)
