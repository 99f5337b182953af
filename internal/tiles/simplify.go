package tiles

import "math"

// MetersPerDegree approximates the length of one degree at the equator.
const MetersPerDegree = 111320.0

// NativeZoom is the zoom from which vector tiles are served unsimplified.
const NativeZoom = 18

// GeoJSONTolerance returns the ST_SimplifyPreserveTopology tolerance in
// degrees for a GeoJSON tile at zoom z.
func GeoJSONTolerance(z int) float64 {
	return math.Exp2(float64(20-z)) / MetersPerDegree
}

// MVTToleranceDegrees returns the vector tile tolerance in degrees. It is
// zero at NativeZoom and deeper.
func MVTToleranceDegrees(z int) float64 {
	if z >= NativeZoom {
		return 0
	}
	return math.Exp2(float64(NativeZoom-z)) * 0.00001
}

// MVTToleranceMeters returns the vector tile tolerance for geometry already
// projected to EPSG:3857.
func MVTToleranceMeters(z int) float64 {
	return MVTToleranceDegrees(z) * MetersPerDegree
}
