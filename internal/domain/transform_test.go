package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCycleRequest(t *testing.T) {
	t.Run("json payload", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"source":"gfs","date":"20240101","cycle":"06"}`)}
		key, err := ParseCycleRequest(raw)

		require.NoError(t, err)
		assert.Equal(t, CycleKey{Source: "gfs", Date: "20240101", Hour: 6}, key)
		assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), key.InitTime())
	})

	t.Run("headers fill missing fields", func(t *testing.T) {
		raw := RawEvent{
			Value:   []byte(`{"date":"20240315"}`),
			Headers: map[string]string{"source": "GFS", "cycle": "18z"},
		}
		key, err := ParseCycleRequest(raw)

		require.NoError(t, err)
		assert.Equal(t, "gfs", key.Source)
		assert.Equal(t, 18, key.Hour)
	})

	t.Run("single digit cycle", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"source":"gfs","date":"20240101","cycle":"6"}`)}
		key, err := ParseCycleRequest(raw)

		require.NoError(t, err)
		assert.Equal(t, "06", key.CycleHour())
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseCycleRequest(RawEvent{Value: []byte(`{`)})
		assert.Error(t, err)
	})

	t.Run("invalid date", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"source":"gfs","date":"2024-01-01","cycle":"00"}`)}
		_, err := ParseCycleRequest(raw)
		assert.ErrorContains(t, err, "invalid cycle date")
	})

	t.Run("source escaping the raw directory", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"source":"../../../tmp/victim","date":"20240101","cycle":"00"}`)}
		_, err := ParseCycleRequest(raw)
		assert.ErrorContains(t, err, "invalid cycle source")
	})

	t.Run("source with separator in header", func(t *testing.T) {
		raw := RawEvent{
			Value:   []byte(`{"date":"20240101","cycle":"00"}`),
			Headers: map[string]string{"source": "gfs/extra"},
		}
		_, err := ParseCycleRequest(raw)
		assert.ErrorContains(t, err, "invalid cycle source")
	})

	t.Run("invalid hour", func(t *testing.T) {
		raw := RawEvent{Value: []byte(`{"source":"gfs","date":"20240101","cycle":"24"}`)}
		_, err := ParseCycleRequest(raw)
		assert.ErrorContains(t, err, "invalid cycle hour")
	})
}

func TestValidateSource(t *testing.T) {
	for _, ok := range []string{"gfs", "met_nordic", "icon-eu", "hrrr2"} {
		assert.NoError(t, ValidateSource(ok), ok)
	}
	for _, bad := range []string{"", "..", "../gfs", "a/b", `a\b`, "GFS", "-gfs", "gfs.zarr", " gfs"} {
		assert.Error(t, ValidateSource(bad), bad)
	}
}

func TestCycleKeyStoreName(t *testing.T) {
	key := CycleKey{Source: "gfs", Date: "20240101", Hour: 0}
	assert.Equal(t, "gfs_20240101_00.zarr", key.StoreName("zarr"))
	assert.Equal(t, "gfs/20240101/00", key.String())
}

func TestNewIngestResult(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(fixed))
	t.Cleanup(func() { SetClock(nil) })

	res := NewIngestResult(CycleKey{Source: "gfs", Date: "20240101", Hour: 6})

	assert.Equal(t, "gfs", res.Source)
	assert.Equal(t, "20240101", res.Date)
	assert.Equal(t, "06", res.Cycle)
	assert.Equal(t, time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC), res.InitTime)
	assert.Equal(t, fixed, res.ProcessedAt)
}

func TestVariableNames(t *testing.T) {
	assert.Equal(t, []string{"u_wind_10m", "wind_gust"}, VariableNames([]Variable{UWind10m, WindGust}))
}

func TestSetClock(t *testing.T) {
	t.Run("set custom clock", func(t *testing.T) {
		fixedTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		SetClock(clockwork.NewFakeClockAt(fixedTime))

		assert.Equal(t, fixedTime, Now())

		SetClock(nil)
	})

	t.Run("reset to real clock", func(t *testing.T) {
		SetClock(clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
		SetClock(nil)

		assert.True(t, time.Since(Now()) < time.Second)
	})
}
