package score

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClamp(t *testing.T) {
	assert.Equal(t, -1.0, Clamp(-3, -1, 1))
	assert.Equal(t, 1.0, Clamp(1.6, -1, 1))
	assert.Equal(t, 0.25, Clamp(0.25, -1, 1))
	assert.Equal(t, -1.0, Clamp(math.NaN(), -1, 1))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, Clamp01(-0.1))
	assert.Equal(t, 1.0, Clamp01(7))
	assert.Equal(t, 0.5, Clamp01(0.5))
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.1235, Round4(0.123456))
	assert.Equal(t, 0.6667, Round4(2.0/3.0))
	assert.Equal(t, -0.4, Round4(-0.4))
}
