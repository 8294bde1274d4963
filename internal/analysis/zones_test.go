package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntensityScore(t *testing.T) {
	tests := []struct {
		name  string
		zones Zones
		want  float64
	}{
		{"mixed zones", Zones{Z1: 300, Z2: 600, Z3: 400, Z4: 150, Z5: 50}, 59.17},
		{"no zone data", Zones{}, 0},
		{"all zone one", Zones{Z1: 1800}, 30},
		{"all zone five", Zones{Z5: 600}, 50},
		{"rounds to two decimals", Zones{Z1: 1}, 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.zones.IntensityScore(), 1e-9)
		})
	}
}

func TestFromBuckets(t *testing.T) {
	assert.Equal(t, Zones{Z1: 1, Z2: 2, Z3: 3, Z4: 4, Z5: 5}, FromBuckets([]int{1, 2, 3, 4, 5}))
	assert.Equal(t, Zones{Z1: 10, Z2: 20}, FromBuckets([]int{10, 20}))
	assert.Equal(t, Zones{Z1: 1, Z2: 1, Z3: 1, Z4: 1, Z5: 1}, FromBuckets([]int{1, 1, 1, 1, 1, 99}))
	assert.Equal(t, Zones{}, FromBuckets(nil))
}
