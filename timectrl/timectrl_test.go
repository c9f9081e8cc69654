package timectrl

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Second, RealTime)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerStartUpdatesNow(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, 5*time.Millisecond, Accelerated)

	done := tc.Start(15 * time.Millisecond)
	<-done

	expected := start.Add(15 * time.Millisecond)
	if got := tc.Now(); !got.Equal(expected) {
		t.Fatalf("Now() = %v, want %v", got, expected)
	}
}

func TestTimeControllerStopEndsUnboundedRun(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start, time.Millisecond, RealTime)

	ticks := make(chan time.Time, 1)
	tc.AddListener(func(now time.Time) {
		select {
		case ticks <- now:
		default:
		}
	})

	done := tc.Start(0)
	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatalf("listener was never notified")
	}

	tc.Stop()
	tc.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Start loop did not exit after Stop")
	}
	if !tc.Now().After(start) {
		t.Fatalf("Now() = %v, want after %v", tc.Now(), start)
	}
}

func TestTimeControllerListenersSeeEveryTick(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tick := 2 * time.Millisecond
	tc := NewTimeController(start, tick, Accelerated)

	var mu sync.Mutex
	var first, second []time.Time
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		defer mu.Unlock()
		first = append(first, now)
	})
	tc.AddListener(func(now time.Time) {
		mu.Lock()
		defer mu.Unlock()
		second = append(second, now)
	})

	<-tc.Start(3 * tick)

	want := []time.Time{start.Add(tick), start.Add(2 * tick), start.Add(3 * tick)}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff(want, first); diff != "" {
		t.Fatalf("first listener ticks (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Fatalf("second listener ticks (-want +got):\n%s", diff)
	}
}

func TestWallClockIsUTC(t *testing.T) {
	if loc := (WallClock{}).Now().Location(); loc != time.UTC {
		t.Fatalf("WallClock location = %v, want UTC", loc)
	}
}
