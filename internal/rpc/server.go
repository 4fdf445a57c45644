package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielpatrickdp/optisat/internal/logging"
	"github.com/danielpatrickdp/optisat/internal/state"
	"github.com/danielpatrickdp/optisat/internal/stopping"
	"github.com/danielpatrickdp/optisat/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region server-struct
// Server hosts one stopping engine per run.
type Server struct {
	defaults stopping.EngineConfig
	store    *state.Store
	metrics  *telemetry.Recorder
	logger   *slog.Logger
	tracer   trace.Tracer

	mu       sync.Mutex
	sessions map[string]*session
}

// session serializes Evaluate calls for one run.
type session struct {
	mu     sync.Mutex
	id     string
	engine *stopping.Engine
	closed bool // set by EndRun; guarded by mu
}

// Option configures a Server.
type Option func(*Server)

// WithStore persists runs and their decision log.
func WithStore(s *state.Store) Option { return func(srv *Server) { srv.store = s } }

// WithRecorder exports decision metrics.
func WithRecorder(r *telemetry.Recorder) Option { return func(srv *Server) { srv.metrics = r } }

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option { return func(srv *Server) { srv.logger = l } }

// WithTracerProvider sets where RPC spans go. The default is the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(srv *Server) { srv.tracer = telemetry.Tracer(tp) }
}

// NewServer returns a server whose StartRun falls back to defaults for any
// field the request leaves out.
func NewServer(defaults stopping.EngineConfig, opts ...Option) *Server {
	s := &Server{
		defaults: defaults.Clone(),
		logger:   logging.Discard(),
		tracer:   telemetry.Tracer(nil),
		sessions: make(map[string]*session),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// #endregion server-struct

// #region sessions
func (s *Server) lookup(runID string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrRunNotFound, runID)
	}
	return sess, nil
}

// ActiveRuns returns the number of runs that have not been ended.
func (s *Server) ActiveRuns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(otelcodes.Error, err.Error())
	return toStatus(err)
}

// #endregion sessions

// #region start-run
// StartRun builds an engine from the request overlaid on the defaults.
func (s *Server) StartRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	_, span := s.tracer.Start(ctx, "StartRun")
	defer span.End()

	cfg, err := applyStartRun(req, s.defaults)
	if err == nil {
		err = stopping.Validate(cfg)
	}
	if err != nil {
		s.metrics.ObserveError(stopping.Kind(err))
		s.logger.Warn("start run rejected", "error", err)
		return nil, s.fail(span, err)
	}
	engine, err := stopping.NewEngine(cfg)
	if err != nil {
		return nil, s.fail(span, err)
	}

	runID := uuid.New().String()
	if s.store != nil {
		rec, err := s.store.CreateRun(cfg)
		if err != nil {
			s.logger.Error("create run", "error", err)
			return nil, s.fail(span, err)
		}
		runID = rec.RunID
	}

	s.mu.Lock()
	s.sessions[runID] = &session{id: runID, engine: engine}
	s.mu.Unlock()

	span.SetAttributes(attribute.String("optisat.run_id", runID))
	s.logger.Info("run started", "run", runID,
		"optimize", engine.OptimizeCriterion().Name,
		"criteria", len(cfg.Criteria),
		"satisfy_patience", cfg.SatisfyPatience,
		"optimize_patience", cfg.OptimizePatience)

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"run_id": structpb.NewStringValue(runID),
	}}, nil
}

// #endregion start-run

// #region evaluate
// Evaluate feeds one snapshot to the run's engine.
func (s *Server) Evaluate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := getString(req, "run_id")
	_, span := s.tracer.Start(ctx, "Evaluate", trace.WithAttributes(attribute.String("optisat.run_id", runID)))
	defer span.End()

	sess, err := s.lookup(runID)
	if err != nil {
		s.metrics.ObserveError("not_found")
		return nil, s.fail(span, err)
	}
	snap, err := decodeSnapshot(req)
	if err != nil {
		s.metrics.ObserveError(stopping.Kind(err))
		return nil, s.fail(span, err)
	}
	span.SetAttributes(attribute.Int("optisat.iteration", snap.Index))

	d, err := s.evaluate(sess, snap)
	if err != nil {
		return nil, s.fail(span, err)
	}
	span.SetAttributes(
		attribute.String("optisat.action", string(d.Action)),
		attribute.String("optisat.reason", string(d.Reason)),
	)
	return encodeDecision(d), nil
}

// evaluate runs one snapshot under the session lock. A session ended between
// lookup and lock is reported as not found so nothing is persisted after EndRun.
func (s *Server) evaluate(sess *session, snap stopping.Snapshot) (stopping.Decision, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.closed {
		s.metrics.ObserveError("not_found")
		return stopping.Decision{}, fmt.Errorf("%w: %q", ErrRunNotFound, sess.id)
	}

	start := time.Now()
	d, err := sess.engine.Evaluate(snap)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveError(stopping.Kind(err))
		s.logger.Warn("snapshot rejected", "run", sess.id, "iteration", snap.Index, "error", err)
		return stopping.Decision{}, err
	}

	s.metrics.Observe(sess.id, d, elapsed)
	s.persist(sess, snap, d)

	if d.Stop() {
		s.logger.Info("run stopped", "run", sess.id, "iteration", d.Index, "reason", d.Reason, "best", d.Best)
	} else {
		s.logger.Debug("decision", "run", sess.id, "iteration", d.Index,
			"satisfying", d.Satisfying, "improved", d.Improved,
			"since_best", d.IterationsSinceBest, "without_satisfying", d.IterationsWithoutSatisfying)
	}
	return d, nil
}

// persist writes the decision log row and run outcome. The decision has
// already been applied to the engine, so failures are logged, not returned.
func (s *Server) persist(sess *session, snap stopping.Snapshot, d stopping.Decision) {
	if s.store == nil {
		return
	}
	entry, err := logging.NewDecisionRecord(sess.engine.Config(), snap, d).Entry(sess.id)
	if err == nil {
		err = logging.LogDecision(s.store.DB(), entry)
	}
	if err != nil {
		s.logger.Error("log decision", "run", sess.id, "iteration", d.Index, "error", err)
	}

	status := state.StatusRunning
	if d.Stop() {
		status = state.StatusStopped
	}
	err = s.store.UpdateRunOutcome(sess.id, state.RunOutcome{
		Status:     status,
		StopReason: d.Reason,
		Best:       d.Best,
		Iterations: sess.engine.Evaluations(),
	})
	if err != nil {
		s.logger.Error("update run", "run", sess.id, "error", err)
	}
}

// #endregion evaluate

// #region status
// GetStatus reports the run's counters and best checkpoint.
func (s *Server) GetStatus(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := getString(req, "run_id")
	_, span := s.tracer.Start(ctx, "GetStatus", trace.WithAttributes(attribute.String("optisat.run_id", runID)))
	defer span.End()

	sess, err := s.lookup(runID)
	if err != nil {
		return nil, s.fail(span, err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return encodeStatus(statusOf(sess)), nil
}

func statusOf(sess *session) RunStatus {
	e := sess.engine
	st := RunStatus{
		RunID:                       sess.id,
		Stopped:                     e.Stopped(),
		Evaluations:                 e.Evaluations(),
		IterationsSinceBest:         e.IterationsSinceBest(),
		IterationsWithoutSatisfying: e.IterationsWithoutSatisfying(),
	}
	if b, ok := e.Best(); ok {
		st.Best = &b
	}
	if d, ok := e.StopDecision(); ok {
		st.StopDecision = &d
	}
	return st
}

// #endregion status

// #region end-run
// EndRun forgets the run. A run that never stopped is recorded as ended.
func (s *Server) EndRun(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	runID := getString(req, "run_id")
	_, span := s.tracer.Start(ctx, "EndRun", trace.WithAttributes(attribute.String("optisat.run_id", runID)))
	defer span.End()

	s.mu.Lock()
	sess, ok := s.sessions[runID]
	delete(s.sessions, runID)
	s.mu.Unlock()
	if !ok {
		return nil, s.fail(span, fmt.Errorf("%w: %q", ErrRunNotFound, runID))
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.closed = true

	st := statusOf(sess)
	res := EndRunResult{
		RunID:      runID,
		Status:     string(state.StatusEnded),
		Best:       st.Best,
		Iterations: st.Evaluations,
	}
	if st.StopDecision != nil {
		res.Status = string(state.StatusStopped)
		res.Reason = st.StopDecision.Reason
	}

	if s.store != nil {
		err := s.store.UpdateRunOutcome(runID, state.RunOutcome{
			Status:     state.RunStatus(res.Status),
			StopReason: res.Reason,
			Best:       res.Best,
			Iterations: res.Iterations,
		})
		if err != nil {
			s.logger.Error("update run", "run", runID, "error", err)
		}
	}
	s.metrics.Forget(runID)
	s.logger.Info("run ended", "run", runID, "status", res.Status, "iterations", res.Iterations)

	return encodeEndRun(res), nil
}

// #endregion end-run
