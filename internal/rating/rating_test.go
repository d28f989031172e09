package rating

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUpdateEqualRatings(t *testing.T) {
	w, l := Update(1200, 1200, false)
	assert.Equal(t, 1216, w)
	assert.Equal(t, 1184, l)
}

func TestUpdateDrawEqualRatingsUnchanged(t *testing.T) {
	a, b := Update(1500, 1500, true)
	assert.Equal(t, 1500, a)
	assert.Equal(t, 1500, b)
}

func TestUpdateUnderdogGainsMore(t *testing.T) {
	w, l := Update(1000, 1400, false)
	assert.Equal(t, 1029, w)
	assert.Equal(t, 1371, l)

	w, l = Update(1400, 1000, false)
	assert.Equal(t, 1403, w)
	assert.Equal(t, 997, l)
}

func TestUpdateDrawMovesTowardEachOther(t *testing.T) {
	low, high := Update(1000, 1400, true)
	assert.Greater(t, low, 1000)
	assert.Less(t, high, 1400)
	assert.Equal(t, 1400-high, low-1000)
}

func TestExpectedIsSymmetric(t *testing.T) {
	for _, tc := range [][2]int{{1200, 1200}, {1000, 1600}, {1850, 1320}} {
		assert.InDelta(t, 1.0, Expected(tc[0], tc[1])+Expected(tc[1], tc[0]), 1e-9)
	}
}
