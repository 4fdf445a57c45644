package rpc

import (
	"context"
	"errors"
	"math"
	"net"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/danielpatrickdp/optisat/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

func lossLatencyConfig() stopping.EngineConfig {
	return stopping.EngineConfig{
		Criteria: []stopping.CriterionSpec{
			stopping.Optimize("val_loss", stopping.Minimize, 0.001),
			stopping.Satisfy("latency_ms", stopping.Minimize, 50),
		},
		SatisfyPatience:  3,
		OptimizePatience: 2,
	}
}

func snap(i int, loss, lat float64) stopping.Snapshot {
	return stopping.Snapshot{Index: i, Metrics: map[string]float64{"val_loss": loss, "latency_ms": lat}}
}

// startServer serves srv over an in-memory listener and returns a client.
func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	Register(gs, srv)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewClientWithConn(conn)
}

func TestServer_LossLatencyScenario(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, NewServer(lossLatencyConfig()))

	runID, err := c.StartRun(ctx, StartRunRequest{})
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	steps := []struct {
		s      stopping.Snapshot
		action stopping.Action
	}{
		{snap(0, 0.50, 60), stopping.ActionContinue},
		{snap(1, 0.40, 45), stopping.ActionContinue},
		{snap(2, 0.40, 40), stopping.ActionContinue},
		{snap(3, 0.39, 42), stopping.ActionContinue},
		{snap(4, 0.389, 44), stopping.ActionContinue},
		{snap(5, 0.389, 43), stopping.ActionStop},
	}
	var last stopping.Decision
	for _, st := range steps {
		last, err = c.Evaluate(ctx, runID, st.s)
		require.NoError(t, err)
		assert.Equal(t, st.action, last.Action, "iteration %d", st.s.Index)
	}
	assert.Equal(t, stopping.ReasonNoImprovement, last.Reason)
	require.NotNil(t, last.Best)
	assert.Equal(t, stopping.Checkpoint{Index: 3, Value: 0.39}, *last.Best)
	assert.Equal(t, 2, last.IterationsSinceBest)

	_, err = c.Evaluate(ctx, runID, snap(6, 0.1, 10))
	assert.True(t, errors.Is(err, stopping.ErrState), "got %v", err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, ReasonState, remote.Reason)
	assert.Equal(t, "5", remote.Metadata["stopped_at"])

	st, err := c.Status(ctx, runID)
	require.NoError(t, err)
	assert.True(t, st.Stopped)
	assert.Equal(t, 6, st.Evaluations)
	require.NotNil(t, st.StopDecision)
	assert.Equal(t, 5, st.StopDecision.Index)

	end, err := c.EndRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", end.Status)
	assert.Equal(t, stopping.ReasonNoImprovement, end.Reason)
	assert.Equal(t, 6, end.Iterations)
}

func TestServer_StartRunOverridesDefaults(t *testing.T) {
	ctx := context.Background()
	srv := NewServer(lossLatencyConfig())
	c := startServer(t, srv)

	runID, err := c.StartRun(ctx, StartRunRequest{
		Criteria: []stopping.CriterionSpec{
			stopping.Optimize("accuracy", stopping.Maximize, 0),
			stopping.Satisfy("recall", stopping.Maximize, 0.6),
		},
		SatisfyPatience: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, srv.ActiveRuns())

	d, err := c.Evaluate(ctx, runID, stopping.Snapshot{Index: 0, Metrics: map[string]float64{"accuracy": 0.9, "recall": 0.4}})
	require.NoError(t, err)
	assert.Equal(t, stopping.ActionStop, d.Action, "satisfy patience 1 stops on the first miss")
	assert.Equal(t, stopping.ReasonSatisfyUnreachable, d.Reason)
	assert.Equal(t, []string{"recall"}, d.Failed)
	assert.Nil(t, d.Best)
}

func TestServer_StartRunInvalidConfig(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, NewServer(lossLatencyConfig()))

	_, err := c.StartRun(ctx, StartRunRequest{
		Criteria: []stopping.CriterionSpec{stopping.Satisfy("latency_ms", stopping.Minimize, 50)},
	})
	assert.True(t, errors.Is(err, stopping.ErrConfiguration), "got %v", err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_NoDefaultCriteria(t *testing.T) {
	c := startServer(t, NewServer(stopping.EngineConfig{SatisfyPatience: 5, OptimizePatience: 5}))
	_, err := c.StartRun(context.Background(), StartRunRequest{})
	assert.True(t, errors.Is(err, stopping.ErrConfiguration), "got %v", err)
}

func TestServer_EvaluateErrors(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, NewServer(lossLatencyConfig()))
	runID, err := c.StartRun(ctx, StartRunRequest{})
	require.NoError(t, err)

	_, err = c.Evaluate(ctx, runID, stopping.Snapshot{Index: 0, Metrics: map[string]float64{"val_loss": 0.5}})
	assert.True(t, errors.Is(err, stopping.ErrMissingMetric), "got %v", err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "latency_ms", remote.Metadata["metrics"])

	_, err = c.Evaluate(ctx, runID, snap(0, math.NaN(), 10))
	assert.True(t, errors.Is(err, stopping.ErrInvalidSnapshot), "got %v", err)

	_, err = c.Evaluate(ctx, runID, snap(0, 0.5, 10))
	require.NoError(t, err, "rejected snapshots leave the run untouched")

	_, err = c.Evaluate(ctx, runID, snap(0, 0.4, 10))
	assert.True(t, errors.Is(err, stopping.ErrInvalidSnapshot), "repeated index: %v", err)

	st, err := c.Status(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Evaluations)
	require.NotNil(t, st.Best)
	assert.Equal(t, 0.5, st.Best.Value)
}

func TestServer_UnknownRun(t *testing.T) {
	ctx := context.Background()
	c := startServer(t, NewServer(lossLatencyConfig()))

	_, err := c.Evaluate(ctx, "nope", snap(0, 1, 1))
	assert.True(t, errors.Is(err, ErrRunNotFound), "got %v", err)
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = c.Status(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))

	_, err = c.EndRun(ctx, "nope")
	assert.True(t, errors.Is(err, ErrRunNotFound))
}

func TestServer_EndRunBeforeStop(t *testing.T) {
	ctx := context.Background()
	srv := NewServer(lossLatencyConfig())
	c := startServer(t, srv)
	runID, _ := c.StartRun(ctx, StartRunRequest{})
	_, err := c.Evaluate(ctx, runID, snap(0, 0.5, 10))
	require.NoError(t, err)

	end, err := c.EndRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "ended", end.Status)
	assert.Equal(t, stopping.ReasonNone, end.Reason)
	assert.Equal(t, 1, end.Iterations)
	assert.Equal(t, 0, srv.ActiveRuns())

	_, err = c.Evaluate(ctx, runID, snap(1, 0.4, 10))
	assert.True(t, errors.Is(err, ErrRunNotFound), "ended runs are forgotten")
}

func TestServer_PersistsRunAndDecisions(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "rpc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := startServer(t, NewServer(lossLatencyConfig(), WithStore(store)))
	runID, err := c.StartRun(ctx, StartRunRequest{})
	require.NoError(t, err)

	for _, s := range []stopping.Snapshot{snap(0, 0.5, 60), snap(1, 0.4, 45), snap(2, 0.4, 40)} {
		_, err := c.Evaluate(ctx, runID, s)
		require.NoError(t, err)
	}

	rec, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusRunning, rec.Status)
	assert.Equal(t, 3, rec.Iterations)
	require.NotNil(t, rec.Best)
	assert.Equal(t, 1, rec.Best.Index)

	rows, err := store.ListDecisions(runID)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Contains(t, rows[0].RecordJSON, `"latency_ms":60`)

	_, err = c.EndRun(ctx, runID)
	require.NoError(t, err)
	rec, _ = store.GetRun(runID)
	assert.Equal(t, state.StatusEnded, rec.Status)
}

func TestServer_EvaluateAfterEndRunDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	store, err := state.NewStore(filepath.Join(t.TempDir(), "rpc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	srv := NewServer(lossLatencyConfig(), WithStore(store))
	c := startServer(t, srv)
	runID, err := c.StartRun(ctx, StartRunRequest{})
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, runID, snap(0, 0.5, 10))
	require.NoError(t, err)

	// An Evaluate that looked the session up just before EndRun removed it.
	sess, err := srv.lookup(runID)
	require.NoError(t, err)
	_, err = c.EndRun(ctx, runID)
	require.NoError(t, err)

	_, err = srv.evaluate(sess, snap(1, 0.4, 10))
	assert.True(t, errors.Is(err, ErrRunNotFound))
	assert.Equal(t, 1, sess.engine.Evaluations(), "engine untouched after EndRun")

	rec, err := store.GetRun(runID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusEnded, rec.Status)
	assert.Equal(t, 1, rec.Iterations)
	rows, err := store.ListDecisions(runID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestServer_MetricsAndSpans(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec := telemetry.NewRecorder(reg)
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer tp.Shutdown(ctx)

	c := startServer(t, NewServer(lossLatencyConfig(), WithRecorder(rec), WithTracerProvider(tp)))
	runID, err := c.StartRun(ctx, StartRunRequest{})
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, runID, snap(0, 0.5, 10))
	require.NoError(t, err)
	_, err = c.Evaluate(ctx, runID, stopping.Snapshot{Index: 1, Metrics: map[string]float64{}})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.DecisionsTotal.WithLabelValues("continue", "")))
	assert.Equal(t, 0.5, testutil.ToFloat64(rec.BestValue.WithLabelValues(runID)))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.EvaluateErrors.WithLabelValues("missing_metric")))

	var names []string
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"StartRun", "Evaluate", "Evaluate"}, names)
	assert.Equal(t, "Error", sr.Ended()[2].Status().Code.String())

	_, err = c.EndRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.CollectAndCount(rec.BestValue))
}
