// Package units rescales raw sensor codes into physical units.
package units

// Calibration coefficients of the logger's power monitor.
const (
	// VoltageCoefficient converts a voltage code to volts.
	VoltageCoefficient float32 = 0.00125
	// CurrentCoefficient converts a current code to milliamps.
	CurrentCoefficient float32 = 0.1
)

// ToPhysical converts raw voltage and current codes to volts and milliamps.
func ToPhysical(voltageRaw, currentRaw int16) (voltage, current float32) {
	return float32(voltageRaw) * VoltageCoefficient, float32(currentRaw) * CurrentCoefficient
}
