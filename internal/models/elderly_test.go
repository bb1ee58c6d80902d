package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckTime_Valid(t *testing.T) {
	cases := map[string][2]int{
		"20:00": {20, 0},
		"9:5":   {9, 5},
		"00:00": {0, 0},
		"23:59": {23, 59},
		"07:30": {7, 30},
	}
	for in, want := range cases {
		h, m, err := ParseCheckTime(in)
		require.NoError(t, err, in)
		assert.Equal(t, want[0], h, in)
		assert.Equal(t, want[1], m, in)
	}
}

func TestParseCheckTime_Invalid(t *testing.T) {
	for _, in := range []string{"25:00", "abc", "12:60", "12", "1:2:3", "", ":30", "ab:cd", "-1:00", "+8:00", "12: 5"} {
		_, _, err := ParseCheckTime(in)
		assert.Error(t, err, in)
		assert.True(t, errors.Is(err, ErrInvalidCheckTime), in)
	}
}

func TestElderly_Validate(t *testing.T) {
	e := NewElderly("张三", "13800000000", "北京市朝阳区")
	assert.Equal(t, DefaultCheckTime, e.CheckTime)
	assert.NotEmpty(t, e.ID)
	require.NoError(t, e.Validate())
	assert.False(t, e.HasHomeLocation())

	e.Latitude = Float64Ptr(39.9)
	assert.ErrorIs(t, e.Validate(), ErrInvalidCoordinates)

	e.Longitude = Float64Ptr(116.4)
	require.NoError(t, e.Validate())
	c, ok := e.HomeLocation()
	assert.True(t, ok)
	assert.Equal(t, 116.4, c.Longitude)

	e.CheckTime = "abc"
	assert.ErrorIs(t, e.Validate(), ErrInvalidCheckTime)
}

func TestCheckInRecord_DateString_UsesLocation(t *testing.T) {
	shanghai := time.FixedZone("UTC+8", 8*3600)
	// 2026-01-16 20:30 UTC 在 UTC+8 已经是 17 号
	r := CheckInRecord{CheckInTime: time.Date(2026, 1, 16, 20, 30, 0, 0, time.UTC)}
	assert.Equal(t, "2026-01-16", r.DateString(time.UTC))
	assert.Equal(t, "2026-01-17", r.DateString(shanghai))
}
