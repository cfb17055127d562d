package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pass-ticketing/internal/resilience"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func TestBreakerOpensAndRecovers(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	b := resilience.NewBreaker(resilience.BreakerConfig{
		Target:       "gw_recover",
		MinRequests:  2,
		FailureRatio: 0.5,
		OpenFor:      time.Minute,
		Now:          clk.Now,
	})
	ctx := context.Background()

	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.False(t, b.Allow(ctx))

	clk.now = clk.now.Add(time.Minute)
	require.True(t, b.Allow(ctx), "probe after cool-off")
	require.Equal(t, resilience.HalfOpen, b.State())
	require.False(t, b.Allow(ctx), "only one probe while half-open")

	b.Report(ctx, true)
	require.Equal(t, resilience.Closed, b.State())
	require.True(t, b.Allow(ctx))

	require.Equal(t, 0.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("gw_recover")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gw_recover", "closed", "open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gw_recover", "open", "half_open")))
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerTransitions.WithLabelValues("gw_recover", "half_open", "closed")))
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	b := resilience.NewBreaker(resilience.BreakerConfig{Target: "gw_reopen", OpenFor: time.Second, Now: clk.Now})
	ctx := context.Background()

	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())

	clk.now = clk.now.Add(time.Second)
	require.True(t, b.Allow(ctx))
	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
	require.Equal(t, 1.0, testutil.ToFloat64(resilience.BreakerState.WithLabelValues("gw_reopen")))
}

func TestBreakerStaysClosedBelowRatio(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Target: "gw_ratio", MinRequests: 4, FailureRatio: 0.5})
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		b.Report(ctx, true)
		b.Report(ctx, true)
		b.Report(ctx, false)
	}
	require.Equal(t, resilience.Closed, b.State())
}

func TestBreakerWindowForgetsOldFailures(t *testing.T) {
	b := resilience.NewBreaker(resilience.BreakerConfig{Target: "gw_window", MinRequests: 2, FailureRatio: 0.5})
	ctx := context.Background()

	for _, ok := range []bool{true, true, false, true, true, true, true} {
		b.Report(ctx, ok)
	}
	// the window of four is now S S S S; one new failure stays below the ratio
	b.Report(ctx, false)
	require.Equal(t, resilience.Closed, b.State())

	b.Report(ctx, false)
	require.Equal(t, resilience.Open, b.State())
}

func TestNilBreakerAllows(t *testing.T) {
	var b *resilience.Breaker
	require.True(t, b.Allow(context.Background()))
	b.Report(context.Background(), false)
	require.Equal(t, resilience.Closed, b.State())
}

func TestBackoff(t *testing.T) {
	base := 100 * time.Millisecond
	require.Equal(t, base, resilience.Backoff(base, 1, 0))
	require.Equal(t, base*4, resilience.Backoff(base, 3, 0))

	d := resilience.Backoff(base, 2, 0.2)
	require.GreaterOrEqual(t, d, base*2-base*2/5)
	require.LessOrEqual(t, d, base*2+base*2/5)
}
