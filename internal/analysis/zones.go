package analysis

import "math"

// Zones holds seconds spent in each heart-rate zone
type Zones struct {
	Z1, Z2, Z3, Z4, Z5 int
}

// FromBuckets maps zone distribution buckets, in index order, onto Z1..Z5.
// Missing buckets stay zero; extra buckets are ignored.
func FromBuckets(seconds []int) Zones {
	var z Zones
	dst := []*int{&z.Z1, &z.Z2, &z.Z3, &z.Z4, &z.Z5}
	for i, s := range seconds {
		if i >= len(dst) {
			break
		}
		*dst[i] = s
	}
	return z
}

// IntensityScore weights time in each zone by its zone number and converts
// seconds to minutes: round((z1*1 + ... + z5*5) / 60, 2).
func (z Zones) IntensityScore() float64 {
	weighted := z.Z1*1 + z.Z2*2 + z.Z3*3 + z.Z4*4 + z.Z5*5
	return Round(float64(weighted)/60, 2)
}

// Round rounds v half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
