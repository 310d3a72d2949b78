package mapspec

import "math"

// Resample walks a polyline at count evenly spaced parametric positions and
// linearly interpolates between the bracketing vertices. When the input
// already has at least count points it is truncated instead, preserving the
// original vertices untouched. count is clamped to a minimum of 2.
func Resample(path []Point, count int) []Point {
	if count < 2 {
		count = 2
	}
	if len(path) >= count {
		out := make([]Point, count)
		copy(out, path[:count])
		return out
	}

	out := make([]Point, 0, count)
	for i := 0; i < count; i++ {
		t := float64(i) / float64(count-1)
		scaled := t * float64(len(path)-1)
		left := int(math.Floor(scaled))
		right := left + 1
		if right > len(path)-1 {
			right = len(path) - 1
		}
		local := scaled - float64(left)
		p1 := path[left]
		p2 := path[right]
		out = append(out, Point{
			X: p1.X + (p2.X-p1.X)*local,
			Y: p1.Y + (p2.Y-p1.Y)*local,
		})
	}
	return out
}
