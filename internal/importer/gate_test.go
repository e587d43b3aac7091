package importer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySize(t *testing.T) {
	tests := []struct {
		n    int
		want Tier
	}{
		{0, TierTest},
		{99, TierTest},
		{100, TierSmall},
		{999, TierSmall},
		{1000, TierMedium},
		{9999, TierMedium},
		{10000, TierLarge},
		{99999, TierLarge},
		{100000, TierExtraLarge},
		{5000000, TierExtraLarge},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifySize(tt.n), "n=%d", tt.n)
	}
}

func TestGate(t *testing.T) {
	tier, err := Gate(9999, GateOptions{})
	assert.NoError(t, err)
	assert.Equal(t, TierMedium, tier)

	tier, err = Gate(10000, GateOptions{})
	assert.True(t, errors.Is(err, ErrConfirmationRequired))
	assert.Equal(t, TierLarge, tier)

	_, err = Gate(250000, GateOptions{Confirmed: true})
	assert.NoError(t, err)

	_, err = Gate(250000, GateOptions{Force: true})
	assert.NoError(t, err)
}
