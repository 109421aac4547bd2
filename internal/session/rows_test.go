package session

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/cane_logger/internal/gps"
	"github.com/relabs-tech/cane_logger/internal/imu"
)

func TestFormatFloat(t *testing.T) {
	cases := []struct {
		in   float64
		want string
	}{
		{40, "40.0"},
		{-73, "-73.0"},
		{0, "0.0"},
		{0.1, "0.1"},
		{9.8, "9.8"},
		{1.25, "1.25"},
		{-0.000125, "-0.000125"},
		{math.NaN(), "NaN"},
		{math.Inf(1), "+Inf"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, formatFloat(c.in), "%v", c.in)
	}
}

func TestRows(t *testing.T) {
	ts := time.Date(2025, 7, 1, 12, 0, 1, 250_000_000, time.Local)
	v := imu.Vector{X: 0.5, Y: -1, Z: 9.81}

	primary := primaryRow(ts, 1250*time.Millisecond, v, gps.Fix{Latitude: 48.1173, Longitude: 11.5167}, "")
	assert.Equal(t, []string{
		"2025-07-01 12:00:01.2500", "1.25", "0.5", "-1.0", "9.81", "48.1173", "11.5167", "Disabled",
	}, primary)
	assert.Len(t, primary, len(PrimaryHeader))

	secondary := secondaryRow(ts, 1250*time.Millisecond, v)
	assert.Equal(t, primary[:5], secondary)
	assert.Len(t, secondary, len(SecondaryHeader))
}
