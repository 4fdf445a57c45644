package simulate

import (
	"context"
	"errors"
	"testing"

	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(t *testing.T, satisfyPatience, optimizePatience int) *stopping.Engine {
	t.Helper()
	e, err := stopping.NewEngine(stopping.EngineConfig{
		Criteria:         DefaultCriteria(),
		SatisfyPatience:  satisfyPatience,
		OptimizePatience: optimizePatience,
	})
	require.NoError(t, err)
	return e
}

func TestNew_InvalidOptions(t *testing.T) {
	mutations := map[string]func(*Options){
		"one class":      func(o *Options) { o.Classes = 1 },
		"no samples":     func(o *Options) { o.Samples = 0 },
		"floor above":    func(o *Options) { o.FloorNoise = o.InitialNoise + 1 },
		"decay one":      func(o *Options) { o.Decay = 1 },
		"negative floor": func(o *Options) { o.FloorNoise = -1 },
		"zero margin":    func(o *Options) { o.Margin = 0 },
	}
	for name, mut := range mutations {
		t.Run(name, func(t *testing.T) {
			o := DefaultOptions()
			mut(&o)
			_, err := New(o)
			assert.Error(t, err)
		})
	}
}

func TestNext_MetricsInRange(t *testing.T) {
	s, err := New(DefaultOptions())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		snap, err := s.Next()
		require.NoError(t, err)
		assert.Equal(t, i, snap.Index)
		assert.GreaterOrEqual(t, snap.Metrics[MetricAccuracy], 0.0)
		assert.LessOrEqual(t, snap.Metrics[MetricAccuracy], 1.0)
		assert.GreaterOrEqual(t, snap.Metrics[MetricMAE], 0.0)
		assert.LessOrEqual(t, snap.Metrics[MetricMAE], float64(DefaultOptions().Classes-1))
		assert.GreaterOrEqual(t, snap.Metrics[MetricConfidence], 0.0)
		assert.LessOrEqual(t, snap.Metrics[MetricConfidence], 1.0)
	}
}

func TestNext_Deterministic(t *testing.T) {
	a, _ := New(DefaultOptions())
	b, _ := New(DefaultOptions())
	for i := 0; i < 5; i++ {
		sa, _ := a.Next()
		sb, _ := b.Next()
		assert.Equal(t, sa, sb, "same seed, iteration %d", i)
	}

	o := DefaultOptions()
	o.Seed = 99
	c, _ := New(o)
	a2, _ := New(DefaultOptions())
	sa, _ := a2.Next()
	sc, _ := c.Next()
	assert.NotEqual(t, sa.Metrics, sc.Metrics)
}

func TestNoise_DecaysToFloor(t *testing.T) {
	s, _ := New(DefaultOptions())
	assert.InDelta(t, 3.0, s.Noise(0), 1e-12)
	assert.Greater(t, s.Noise(1), s.Noise(2))
	assert.InDelta(t, 0.8, s.Noise(500), 1e-9)
}

func TestNext_QualityImprovesWithTraining(t *testing.T) {
	s, _ := New(DefaultOptions())
	first, _ := s.Next()
	var late stopping.Snapshot
	for i := 0; i < 40; i++ {
		late, _ = s.Next()
	}
	assert.Greater(t, late.Metrics[MetricAccuracy], first.Metrics[MetricAccuracy])
	assert.Less(t, late.Metrics[MetricMAE], first.Metrics[MetricMAE])
}

func TestRun_StopsEngine(t *testing.T) {
	s, _ := New(DefaultOptions())
	e := newEngine(t, 50, 3)

	res, err := s.Run(context.Background(), e, 1000)
	require.NoError(t, err)
	require.True(t, res.Stopped, "plateaued mae must trigger a stop")
	assert.True(t, e.Stopped())

	last, ok := res.Last()
	require.True(t, ok)
	assert.Equal(t, stopping.ActionStop, last.Action)
	assert.Equal(t, e.Evaluations(), len(res.Steps))
	for _, st := range res.Steps[:len(res.Steps)-1] {
		assert.Equal(t, stopping.ActionContinue, st.Decision.Action)
	}
}

func TestRun_MaxIter(t *testing.T) {
	s, _ := New(DefaultOptions())
	e := newEngine(t, 100, 100)

	res, err := s.Run(context.Background(), e, 4)
	require.NoError(t, err)
	assert.Len(t, res.Steps, 4)
	assert.False(t, res.Stopped)
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, _ := New(DefaultOptions())

	res, err := s.Run(ctx, newEngine(t, 5, 5), 10)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, res.Steps)
	_, ok := res.Last()
	assert.False(t, ok)
}

type rejectingEvaluator struct{}

func (rejectingEvaluator) Evaluate(s stopping.Snapshot) (stopping.Decision, error) {
	return stopping.Decision{}, &stopping.MissingMetricError{Index: s.Index, Names: []string{"loss"}}
}

func TestRun_EvaluatorError(t *testing.T) {
	s, _ := New(DefaultOptions())
	_, err := s.Run(context.Background(), rejectingEvaluator{}, 3)
	assert.True(t, errors.Is(err, stopping.ErrMissingMetric))
}
