package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaLimitsValidate(t *testing.T) {
	valid := QuotaLimits{RequestsPerMinute: 60, RequestsPerDay: 10000}
	require.NoError(t, valid.Validate())

	cases := map[string]QuotaLimits{
		"zero per minute":     {RequestsPerMinute: 0, RequestsPerDay: 100},
		"negative per minute": {RequestsPerMinute: -1, RequestsPerDay: 100},
		"zero per day":        {RequestsPerMinute: 10, RequestsPerDay: 0},
		"negative burst":      {RequestsPerMinute: 10, RequestsPerDay: 100, Burst: -5},
		"day below minute":    {RequestsPerMinute: 100, RequestsPerDay: 10},
	}
	for name, limits := range cases {
		t.Run(name, func(t *testing.T) {
			err := limits.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidLimits)
		})
	}
}

func TestQuotaLimitsWindows(t *testing.T) {
	limits := QuotaLimits{RequestsPerMinute: 10, RequestsPerDay: 500, Burst: 5}
	windows := limits.Windows()

	require.Len(t, windows, 2)
	assert.Equal(t, GranularityMinute, windows[0].Granularity)
	assert.Equal(t, time.Minute, windows[0].Size)
	assert.Equal(t, 15, windows[0].Limit, "burst widens the minute window")
	assert.Equal(t, GranularityDay, windows[1].Granularity)
	assert.Equal(t, 24*time.Hour, windows[1].Size)
	assert.Equal(t, 500, windows[1].Limit)
}

func TestGranularityWindow(t *testing.T) {
	assert.Equal(t, time.Minute, GranularityMinute.Window())
	assert.Equal(t, 24*time.Hour, GranularityDay.Window())
}
