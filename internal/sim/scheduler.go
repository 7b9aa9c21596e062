package sim

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/art-injener/satkin/internal/kinematics"
	"github.com/art-injener/satkin/internal/observability"
	"github.com/art-injener/satkin/internal/orbit"
)

const tracerName = "github.com/art-injener/satkin/internal/sim"

// ErrInvalidTick — шаг сценарного времени не положителен.
var ErrInvalidTick = errors.New("tick must be positive")

// Object — зарегистрированный в планировщике объект.
type Object struct {
	ID    uuid.UUID
	Name  string
	Mover kinematics.Mover
}

// StepReport — итог одного шага.
type StepReport struct {
	Time    time.Time
	Moved   int
	Skipped int // объекты без орбиты
	Failed  int
}

// Scheduler на каждом шаге вызывает Move у всех объектов в порядке регистрации.
type Scheduler struct {
	mu      sync.RWMutex
	objects []Object

	clock     *ScenarioClock
	logger    *slog.Logger
	collector *observability.Collector
	tracer    trace.Tracer
	workers   int
	pace      time.Duration
}

// SchedulerOption функция настройки Scheduler.
type SchedulerOption func(*Scheduler)

func WithLogger(logger *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = logger }
}

// WithCollector подключает метрики. nil допустим.
func WithCollector(c *observability.Collector) SchedulerOption {
	return func(s *Scheduler) { s.collector = c }
}

// WithWorkers задаёт число горутин, между которыми делятся объекты шага.
func WithWorkers(n int) SchedulerOption {
	return func(s *Scheduler) { s.workers = max(n, 1) }
}

// WithPace задаёт паузу реального времени между шагами Run. 0 — без пауз.
func WithPace(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.pace = d }
}

// NewScheduler создаёт планировщик поверх часов clock.
func NewScheduler(clock *ScenarioClock, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		clock:   clock,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		workers: 1,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Clock возвращает часы планировщика.
func (s *Scheduler) Clock() *ScenarioClock {
	return s.clock
}

// Add регистрирует объект и возвращает его идентификатор.
func (s *Scheduler) Add(name string, m kinematics.Mover) uuid.UUID {
	id := uuid.New()

	s.mu.Lock()
	s.objects = append(s.objects, Object{ID: id, Name: name, Mover: m})
	n := len(s.objects)
	s.mu.Unlock()

	s.collector.SetObjects(n)
	s.logger.Debug("object registered", "id", id, "name", name)

	return id
}

// Remove снимает объект с учёта. Возвращает false, если объекта нет.
func (s *Scheduler) Remove(id uuid.UUID) bool {
	s.mu.Lock()
	before := len(s.objects)
	s.objects = slices.DeleteFunc(s.objects, func(o Object) bool { return o.ID == id })
	n := len(s.objects)
	s.mu.Unlock()

	if n == before {
		return false
	}
	s.collector.SetObjects(n)
	return true
}

func (s *Scheduler) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.objects)
}

// Objects возвращает копию списка объектов.
func (s *Scheduler) Objects() []Object {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.objects)
}

type moveResult int

const (
	resultMoved moveResult = iota
	resultSkipped
	resultFailed
)

// Step выполняет один шаг для всех объектов на текущем времени часов.
// Отказ одного объекта не останавливает остальных.
func (s *Scheduler) Step(ctx context.Context) StepReport {
	tc := kinematics.TickFrom(s.clock)
	objects := s.Objects()

	ctx, span := s.tracer.Start(ctx, "sim.step", trace.WithAttributes(
		attribute.String("sim.time", tc.Now.Format(time.RFC3339Nano)),
		attribute.Int("sim.objects", len(objects)),
	))
	defer span.End()

	start := time.Now()
	results := make([]moveResult, len(objects))

	if s.workers <= 1 || len(objects) <= 1 {
		for i, o := range objects {
			results[i] = s.move(ctx, o, tc)
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, s.workers)
		for i, o := range objects {
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				results[i] = s.move(ctx, o, tc)
			}()
		}
		wg.Wait()
	}

	report := StepReport{Time: tc.Now}
	for _, r := range results {
		switch r {
		case resultMoved:
			report.Moved++
		case resultSkipped:
			report.Skipped++
		case resultFailed:
			report.Failed++
		}
	}

	s.collector.ObserveStep(report.Moved, time.Since(start))

	span.SetAttributes(
		attribute.Int("sim.moved", report.Moved),
		attribute.Int("sim.failed", report.Failed),
	)
	if report.Failed > 0 {
		span.SetStatus(codes.Error, "some objects failed to move")
	}

	return report
}

func (s *Scheduler) move(ctx context.Context, o Object, tc kinematics.TickContext) moveResult {
	logger := s.logger.With("object", o.Name, "id", o.ID)

	err := o.Mover.Move(tc, logger)
	switch {
	case err == nil:
		return resultMoved
	case errors.Is(err, kinematics.ErrNoOrbit):
		logger.DebugContext(ctx, "object has no orbit")
		return resultSkipped
	default:
		kind := orbit.KindOf(err).String()
		logger.ErrorContext(ctx, "move failed",
			"diag", kinematics.DiagMarker,
			"kind", kind,
			"error", err,
		)
		s.collector.RecordFailure(kind)
		return resultFailed
	}
}

// Run выполняет steps шагов, сдвигая часы на tick после каждого.
// steps <= 0 — до отмены контекста. Возвращает число выполненных шагов.
func (s *Scheduler) Run(ctx context.Context, steps int, tick time.Duration) (int, error) {
	if tick <= 0 {
		return 0, errors.Wrapf(ErrInvalidTick, "tick=%s", tick)
	}

	var pacer <-chan time.Time
	if s.pace > 0 {
		t := time.NewTicker(s.pace)
		defer t.Stop()
		pacer = t.C
	}

	done := 0
	for steps <= 0 || done < steps {
		if err := ctx.Err(); err != nil {
			return done, err
		}

		report := s.Step(ctx)
		done++

		s.logger.DebugContext(ctx, "step completed",
			"time", report.Time,
			"moved", report.Moved,
			"skipped", report.Skipped,
			"failed", report.Failed,
		)

		s.clock.Advance(tick)

		if pacer != nil && (steps <= 0 || done < steps) {
			select {
			case <-ctx.Done():
				return done, ctx.Err()
			case <-pacer:
			}
		}
	}

	return done, nil
}
