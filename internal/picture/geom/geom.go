// Package geom holds the coordinate helpers shared by the tactical picture
// stages. The own vehicle sits at the origin of a local east-north-up frame:
// x east, y north, z up, metres.
package geom

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const degToRad = math.Pi / 180.0

// PolarToCartesian converts a range/bearing/elevation measurement to the
// local frame. Bearing is clockwise from north, elevation is measured from
// the horizontal plane.
func PolarToCartesian(rangeM, bearingDeg, elevDeg float64) r3.Vec {
	brg := bearingDeg * degToRad
	el := elevDeg * degToRad
	horiz := rangeM * math.Cos(el)
	return r3.Vec{
		X: horiz * math.Sin(brg),
		Y: horiz * math.Cos(brg),
		Z: rangeM * math.Sin(el),
	}
}

// CartesianToPolar is the inverse of PolarToCartesian. Bearing is returned in
// [0, 360).
func CartesianToPolar(p r3.Vec) (rangeM, bearingDeg, elevDeg float64) {
	rangeM = r3.Norm(p)
	if rangeM == 0 {
		return 0, 0, 0
	}
	bearingDeg = NormalizeBearing(math.Atan2(p.X, p.Y) / degToRad)
	elevDeg = math.Asin(clamp(p.Z/rangeM, -1, 1)) / degToRad
	return rangeM, bearingDeg, elevDeg
}

// NormalizeBearing wraps a bearing into [0, 360).
func NormalizeBearing(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -1e-15 wraps to 360 after the addition above
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// LineOfSight returns the unit vector from the origin towards p. A point at
// the origin has no defined line of sight and yields the zero vector.
func LineOfSight(p r3.Vec) r3.Vec {
	n := r3.Norm(p)
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/n, p)
}

// RadialVelocity projects v onto the line of sight towards p. Positive values
// are receding, negative values are closing.
func RadialVelocity(p, v r3.Vec) float64 {
	return r3.Dot(LineOfSight(p), v)
}

// Predict extrapolates p at constant velocity v over dt seconds.
func Predict(p, v r3.Vec, dt float64) r3.Vec {
	return r3.Add(p, r3.Scale(dt, v))
}

// Distance returns the Euclidean distance between p and q.
func Distance(p, q r3.Vec) float64 {
	return r3.Norm(r3.Sub(p, q))
}

// ClosestApproach returns the time until closest approach and the miss
// distance at that time for an object at relative position p moving at
// relative velocity v. When there is no relative motion the current range is
// returned with t = 0. A negative t means the closest point is in the past.
func ClosestApproach(p, v r3.Vec) (tCPA, dCPA float64) {
	vv := r3.Dot(v, v)
	if vv < 1e-9 {
		return 0, r3.Norm(p)
	}
	tCPA = -r3.Dot(p, v) / vv
	return tCPA, r3.Norm(Predict(p, v, tCPA))
}

// IsFinite reports whether every component of p is finite.
func IsFinite(p r3.Vec) bool {
	return Finite(p.X) && Finite(p.Y) && Finite(p.Z)
}

// Finite reports whether f is neither NaN nor ±Inf.
func Finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Clamp01 limits f to [0, 1]. NaN maps to 0.
func Clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return clamp(f, 0, 1)
}

func clamp(f, lo, hi float64) float64 {
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}
