package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLimits(t *testing.T) {
	limits := DefaultLimits()

	assert.NotNil(t, limits.UserLimit)
	assert.Equal(t, 5, *limits.UserLimit)
	assert.Equal(t, 50, limits.MonthlyScanQuota)
	assert.Equal(t, 10, limits.DailyCardLimit)
	assert.Equal(t, 5, limits.BatchSizeLimit)
}

func TestEffectiveLimits(t *testing.T) {
	t.Run("nil version falls back to defaults", func(t *testing.T) {
		assert.Equal(t, DefaultLimits(), EffectiveLimits(nil))
	})

	t.Run("bound version wins", func(t *testing.T) {
		users := 20
		limits := EffectiveLimits(&PlanVersion{
			UserLimit:        &users,
			MonthlyScanQuota: 500,
			DailyCardLimit:   20,
			BatchSizeLimit:   10,
		})

		assert.Equal(t, &users, limits.UserLimit)
		assert.Equal(t, 500, limits.MonthlyScanQuota)
		assert.Equal(t, 20, limits.DailyCardLimit)
		assert.Equal(t, 10, limits.BatchSizeLimit)
	})

	t.Run("nil user limit means unlimited", func(t *testing.T) {
		limits := EffectiveLimits(&PlanVersion{MonthlyScanQuota: 10000})
		assert.Nil(t, limits.UserLimit)
	})
}
