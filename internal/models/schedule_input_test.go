package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWeeklySchedule(t *testing.T) {
	monday := DaySchedule{Day: 1, Active: true, Start: MustTimeOfDay("16:00"), End: MustTimeOfDay("20:00")}

	tests := []struct {
		name string
		raw  string
		want []DaySchedule
	}{
		{
			name: "canonical list",
			raw:  `[{"day":1,"active":true,"start":"16:00","end":"20:00"}]`,
			want: []DaySchedule{monday},
		},
		{
			name: "snake case with named day and seconds",
			raw:  `[{"day_of_week":"monday","is_active":true,"start_time":"16:00:00","end_time":"20:00:00"}]`,
			want: []DaySchedule{monday},
		},
		{
			name: "object keyed by day",
			raw:  `{"monday":{"enabled":true,"startTime":"16:00","endTime":"20:00"}}`,
			want: []DaySchedule{monday},
		},
		{
			name: "pair and range strings",
			raw:  `{"wed":"09:00-11:00","monday":["16:00","20:00"]}`,
			want: []DaySchedule{
				monday,
				{Day: 3, Active: true, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("11:00")},
			},
		},
		{
			name: "wrapped and sunday as seven",
			raw:  `{"schedule":[{"weekday":7,"active":"false"}]}`,
			want: []DaySchedule{{Day: 0}},
		},
		{
			name: "empty and null days are inactive",
			raw:  `{"friday":"","saturday":null}`,
			want: []DaySchedule{{Day: 5}, {Day: 6}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeWeeklySchedule([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeWeeklySchedule_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{monday`},
		{"scalar document", `42`},
		{"unknown day", `{"funday":"09:00-10:00"}`},
		{"day out of range", `[{"day":9,"start":"09:00","end":"10:00"}]`},
		{"missing day", `[{"start":"09:00","end":"10:00"}]`},
		{"duplicate day", `[{"day":1,"start":"09:00","end":"10:00"},{"day":"mon","start":"11:00","end":"12:00"}]`},
		{"end before start", `{"monday":"18:00-16:00"}`},
		{"active without times", `[{"day":2,"active":true}]`},
		{"bad time", `{"monday":"4pm-8pm"}`},
		{"wrong pair length", `{"monday":["16:00"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeWeeklySchedule([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, IsKind(err, KindValidation))
		})
	}
}

func TestTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("07:30:00")
	require.NoError(t, err)
	assert.Equal(t, TimeOfDay(450), tod)
	assert.Equal(t, "07:30", tod.String())
	assert.Equal(t, "08:30", tod.Add(60*60*1e9).String())

	var scanned TimeOfDay
	require.NoError(t, scanned.Scan([]byte("16:00:00")))
	assert.Equal(t, MustTimeOfDay("16:00"), scanned)
	require.NoError(t, scanned.Scan(int64(17*60*60*1e6)))
	assert.Equal(t, MustTimeOfDay("17:00"), scanned)

	v, err := MustTimeOfDay("09:05").Value()
	require.NoError(t, err)
	assert.Equal(t, "09:05:00", v)

	_, err = ParseTimeOfDay("25:00")
	assert.Error(t, err)
}
