package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerPauserHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := TimerPauser{}.Pause(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second, "pause should exit immediately when context is done")
}

func TestTimerPauserWaits(t *testing.T) {
	start := time.Now()
	require.NoError(t, TimerPauser{}.Pause(context.Background(), 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.NoError(t, TimerPauser{}.Pause(context.Background(), 0))
}

func TestJitterStaysInRange(t *testing.T) {
	j := NewJitter(500*time.Millisecond, 100*time.Millisecond)
	require.Equal(t, 100*time.Millisecond, j.Min)
	require.Equal(t, 500*time.Millisecond, j.Max)
	for range 200 {
		d := j.Next()
		require.GreaterOrEqual(t, d, j.Min)
		require.LessOrEqual(t, d, j.Max)
	}

	j.draw = func(n int64) int64 { return n - 1 }
	require.Equal(t, 500*time.Millisecond, j.Next())
	require.Zero(t, Jitter{}.Next())
}

func TestPacerDelay(t *testing.T) {
	pauser := &recordingPauser{}
	p := NewPacer(2*time.Second, NewJitter(100*time.Millisecond, 100*time.Millisecond), pauser)

	require.Equal(t, 2*time.Second+100*time.Millisecond, p.Delay(1))
	require.Equal(t, 8*time.Second+100*time.Millisecond, p.Delay(4))

	require.NoError(t, p.Wait(context.Background()))
	require.Equal(t, []time.Duration{2*time.Second + 100*time.Millisecond}, pauser.delays)
}
