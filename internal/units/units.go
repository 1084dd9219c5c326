// Package units provides shared constants and validation for the speed
// and altitude units accepted by the status API.
package units

// Speed unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Altitude unit constants
const (
	Meters = "m"
	Feet   = "ft"
)

// ValidSpeedUnits contains all valid speed unit values
var ValidSpeedUnits = []string{MPS, MPH, KMPH, KPH}

// IsValidSpeed checks if the given unit is in the list of valid speed units
func IsValidSpeed(unit string) bool {
	for _, validUnit := range ValidSpeedUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidSpeedUnitsString returns a comma-separated string of valid units for error messages
func GetValidSpeedUnitsString() string {
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from meters per second to the target units
// Telemetry carries speeds in m/s (meters per second)
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPS * 2.23694 // m/s to mph
	case KMPH, KPH:
		return speedMPS * 3.6 // m/s to km/h
	case MPS:
		return speedMPS // no conversion needed
	default:
		return speedMPS // default to m/s if unknown unit
	}
}

// ConvertAltitude converts an altitude from meters to the target units
func ConvertAltitude(altitudeM float64, targetUnits string) float64 {
	switch targetUnits {
	case Feet:
		return altitudeM * 3.28084
	case Meters:
		return altitudeM
	default:
		return altitudeM
	}
}
