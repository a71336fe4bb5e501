// SPDX-License-Identifier: BSD-3-Clause

package fancurve

// Linear interpolates linearly between bracketing points, saturating at
// the endpoints.
type Linear struct {
	points   []Point
	minSpeed float64
	maxSpeed float64
}

// NewLinear validates and builds a Linear curve.
func NewLinear(points []Point, minSpeed, maxSpeed float64) (*Linear, error) {
	if err := validatePoints(points, minSpeed, maxSpeed); err != nil {
		return nil, err
	}
	sorted := append([]Point(nil), points...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1].Delta > sorted[j].Delta; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return &Linear{points: sorted, minSpeed: minSpeed, maxSpeed: maxSpeed}, nil
}

// SpeedFor implements Curve.
func (l *Linear) SpeedFor(delta float64) Result {
	points := l.points
	idx := bisectRight(points, delta)

	var speed float64
	switch {
	case idx == 0:
		speed = points[0].Speed
	case idx >= len(points):
		speed = points[len(points)-1].Speed
	default:
		p1, p2 := points[idx-1], points[idx]
		ratio := (delta - p1.Delta) / (p2.Delta - p1.Delta)
		speed = p1.Speed + ratio*(p2.Speed-p1.Speed)
	}

	return Result{Percent: clamp(speed, l.minSpeed, l.maxSpeed)}
}
