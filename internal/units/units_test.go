package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidSpeed(t *testing.T) {
	for _, unit := range ValidSpeedUnits {
		assert.True(t, IsValidSpeed(unit), "unit %q should be valid", unit)
	}
	assert.False(t, IsValidSpeed("knots"))
	assert.False(t, IsValidSpeed(""))
}

func TestConvertSpeed(t *testing.T) {
	assert.InDelta(t, 10.0, ConvertSpeed(10, MPS), 1e-9)
	assert.InDelta(t, 22.3694, ConvertSpeed(10, MPH), 1e-4)
	assert.InDelta(t, 36.0, ConvertSpeed(10, KMPH), 1e-9)
	assert.InDelta(t, 36.0, ConvertSpeed(10, KPH), 1e-9)
	// Unknown units pass through unchanged.
	assert.InDelta(t, 10.0, ConvertSpeed(10, "furlongs"), 1e-9)
}

func TestConvertAltitude(t *testing.T) {
	assert.InDelta(t, 1000.0, ConvertAltitude(1000, Meters), 1e-9)
	assert.InDelta(t, 3280.84, ConvertAltitude(1000, Feet), 1e-2)
	assert.InDelta(t, 1000.0, ConvertAltitude(1000, "cubits"), 1e-9)
}
