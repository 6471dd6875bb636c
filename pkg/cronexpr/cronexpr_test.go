package cronexpr

import (
	"testing"
	"time"

	"fleetops-controlplane/pkg/errutil"

	"github.com/stretchr/testify/require"
)

func TestNextOccurrenceEveryFiveMinutes(t *testing.T) {
	after := time.Date(2026, 3, 1, 10, 2, 30, 0, time.UTC)

	next, err := NextOccurrence("*/5 * * * *", "UTC", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), next)

	// strictly after
	again, err := NextOccurrence("*/5 * * * *", "UTC", next)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC), again)
}

func TestNextOccurrenceDeterministic(t *testing.T) {
	after := time.Date(2026, 7, 4, 23, 59, 0, 0, time.UTC)
	first, err := NextOccurrence("0 9 * * 1-5", "America/New_York", after)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		got, err := NextOccurrence("0 9 * * 1-5", "America/New_York", after)
		require.NoError(t, err)
		require.Equal(t, first, got)
	}
}

func TestNextOccurrenceHonoursTimezone(t *testing.T) {
	after := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	next, err := NextOccurrence("0 2 * * *", "Asia/Jakarta", after)
	require.NoError(t, err)
	// 02:00 WIB is 19:00 UTC the previous day
	require.Equal(t, time.Date(2026, 1, 10, 19, 0, 0, 0, time.UTC), next)
	require.Equal(t, time.UTC, next.Location())
}

func TestNextOccurrenceDescriptor(t *testing.T) {
	after := time.Date(2026, 1, 10, 5, 30, 0, 0, time.UTC)
	next, err := NextOccurrence("@hourly", "", after)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 1, 10, 6, 0, 0, 0, time.UTC), next)
}

func TestNextOccurrenceInvalid(t *testing.T) {
	cases := []struct {
		name string
		expr string
		tz   string
	}{
		{name: "garbage", expr: "not a cron", tz: "UTC"},
		{name: "too many fields", expr: "0 0 * * * *", tz: "UTC"},
		{name: "empty", expr: "", tz: "UTC"},
		{name: "bad timezone", expr: "* * * * *", tz: "Mars/Olympus"},
		{name: "inline timezone", expr: "CRON_TZ=UTC * * * * *", tz: ""},
		{name: "never fires", expr: "0 0 30 2 *", tz: "UTC"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NextOccurrence(tc.expr, tc.tz, time.Now())
			require.Error(t, err)
			require.Equal(t, errutil.ReasonInvalidCronExpression, errutil.ReasonOf(err))
		})
	}
}
