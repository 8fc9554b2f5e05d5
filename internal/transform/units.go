package transform

// Fixed unit conversions. Every physical quantity in a canonical activity is
// stored in these units.

// MetersToMiles converts a distance in meters to miles
func MetersToMiles(meters float64) float64 {
	return meters / 1609.34
}

// MetersToFeet converts an elevation in meters to feet
func MetersToFeet(meters float64) float64 {
	return meters / 0.3048
}

// MPSToMPH converts a speed in meters per second to miles per hour
func MPSToMPH(mps float64) float64 {
	return mps * 25 / 11
}

// CelsiusToFahrenheit converts a temperature in °C to °F
func CelsiusToFahrenheit(celsius float64) float64 {
	return celsius*9/5 + 32
}

// convert applies fn to a nullable value, leaving nil untouched
func convert(v *float64, fn func(float64) float64) *float64 {
	if v == nil {
		return nil
	}
	out := fn(*v)
	return &out
}
