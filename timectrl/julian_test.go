package timectrl

import (
	"math"
	"testing"
	"time"
)

func TestToJulianDate_Epochs(t *testing.T) {
	if got := ToJulianDate(time.Unix(0, 0)); got != UnixEpochJD {
		t.Fatalf("unix epoch JD = %v, want %v", got, UnixEpochJD)
	}
	j2000 := time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)
	if got := ToJulianDate(j2000); math.Abs(got-J2000JD) > 1e-9 {
		t.Fatalf("J2000 JD = %v, want %v", got, J2000JD)
	}
	if got := DaysSinceJ2000(j2000.Add(36 * time.Hour)); math.Abs(got-1.5) > 1e-9 {
		t.Fatalf("DaysSinceJ2000 = %v, want 1.5", got)
	}
}

func TestFromJulianDate_RoundTrip(t *testing.T) {
	want := time.Date(2024, time.April, 8, 18, 17, 23, 250_000_000, time.UTC)
	got := FromJulianDate(ToJulianDate(want))
	if d := got.Sub(want); d < -time.Millisecond || d > time.Millisecond {
		t.Fatalf("round trip = %v, want %v (diff %v)", got, want, d)
	}
	if got.Location() != time.UTC {
		t.Fatalf("FromJulianDate should return UTC, got %v", got.Location())
	}
}

func TestDayOfYear(t *testing.T) {
	cases := map[time.Time]int{
		time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC):   1,
		time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC): 365,
		time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC): 366,
	}
	for in, want := range cases {
		if got := DayOfYear(in); got != want {
			t.Fatalf("DayOfYear(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestSolarTime_Normalizes(t *testing.T) {
	noon := time.Date(2024, time.June, 1, 12, 30, 0, 0, time.UTC)
	cases := []struct {
		lon  float64
		want float64
	}{
		{0, 12.5},
		{15, 13.5},
		{-180, 0.5},
		{180, 0.5},
		{-195, 23.5},
	}
	for _, tc := range cases {
		if got := SolarTime(noon, tc.lon); math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("SolarTime(lon=%v) = %v, want %v", tc.lon, got, tc.want)
		}
	}
}

func TestTimeRange(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)

	var got []time.Time
	for ts := range TimeRange(start, end, 20*time.Second) {
		got = append(got, ts)
	}
	if len(got) != 4 || !got[0].Equal(start) || !got[3].Equal(end) {
		t.Fatalf("TimeRange = %v, want 4 points from start to end inclusive", got)
	}

	// Restartable and stoppable.
	seq := TimeRange(start, end, 20*time.Second)
	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	again := 0
	for range seq {
		again++
	}
	if n != 2 || again != 4 {
		t.Fatalf("early stop consumed %d, rerun consumed %d; want 2 and 4", n, again)
	}

	for range TimeRange(start, end, 0) {
		t.Fatalf("zero step must yield nothing")
	}
	for range TimeRange(end, start, time.Second) {
		t.Fatalf("reversed range must yield nothing")
	}
}

func TestUntilNextInterval(t *testing.T) {
	now := time.Date(2024, time.January, 1, 10, 0, 42, 0, time.UTC)
	if got := UntilNextInterval(now, time.Minute); got != 18*time.Second {
		t.Fatalf("UntilNextInterval = %v, want 18s", got)
	}
	if got := UntilNextInterval(now, 0); got != 0 {
		t.Fatalf("zero interval = %v, want 0", got)
	}
}
