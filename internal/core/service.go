package core

import (
	"context"
	"errors"

	"workassign/internal/allocator"
	"workassign/internal/fixtures"
	"workassign/internal/infra/persistence/memory"
	"workassign/internal/report"
)

// Service exposes transactional CRUD, allocation, reporting and fixture
// loading on top of a persistent store. Every operation is traced, timed,
// logged and audited.
type Service struct {
	store    PersistentStore
	capacity int
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	clock    Clock
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Nil keeps the no-op default.
func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(r AuditRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.audit = r
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(r MetricsRecorder) Option {
	return func(s *Service) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithClock overrides the time source used for audit timestamps and durations.
func WithClock(c Clock) Option {
	return func(s *Service) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithDailyCapacity sets the allocator's per-worker daily cap.
func WithDailyCapacity(hours int) Option {
	return func(s *Service) {
		if hours > 0 {
			s.capacity = hours
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		capacity: allocator.DefaultDailyCapacity,
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
		clock:    utcClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// DailyCapacity returns the cap passed to the allocator.
func (s *Service) DailyCapacity() int {
	return s.capacity
}

type opMeta struct {
	name   string
	entity EntityType
	action Action
}

// run wraps fn with tracing, timing, logging, metrics and audit. fn returns
// the id of the record it touched, or 0.
func (s *Service) run(ctx context.Context, op opMeta, fn func(context.Context) (int64, Result, error)) (Result, error) {
	ctx, span := s.tracer.Start(ctx, op.name)
	start := s.clock.Now()
	id, res, err := fn(ctx)
	dur := s.clock.Now().Sub(start)
	span.End(err)
	s.metrics.Observe(ctx, op.name, err == nil, dur)

	entry := AuditEntry{
		Operation: op.name,
		Entity:    op.entity,
		Action:    op.action,
		EntityID:  id,
		Status:    AuditStatusSuccess,
		Duration:  dur,
		Timestamp: start,
	}
	for _, v := range res.Warnings() {
		s.logger.Warn("rule warning", "operation", op.name, "rule", v.Rule, "message", v.Message)
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
		s.logger.Error("operation failed", "operation", op.name, "error", err, "duration", dur)
	} else {
		s.logger.Debug("operation completed", "operation", op.name, "entity_id", id, "duration", dur)
	}
	s.audit.Record(ctx, entry)
	return res, err
}

func (s *Service) mutate(ctx context.Context, op opMeta, fn func(tx Transaction) (int64, error)) (Result, error) {
	return s.run(ctx, op, func(ctx context.Context) (int64, Result, error) {
		var id int64
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			id, err = fn(tx)
			return err
		})
		return id, res, err
	})
}

// CreatePosition persists a new position.
func (s *Service) CreatePosition(ctx context.Context, p Position) (Position, Result, error) {
	var created Position
	res, err := s.mutate(ctx, opMeta{"create_position", EntityPosition, ActionCreate}, func(tx Transaction) (int64, error) {
		var err error
		created, err = tx.CreatePosition(p)
		return created.ID, err
	})
	return created, res, err
}

// UpdatePosition mutates a position using the provided mutator.
func (s *Service) UpdatePosition(ctx context.Context, id int64, mutator func(*Position) error) (Position, Result, error) {
	var updated Position
	res, err := s.mutate(ctx, opMeta{"update_position", EntityPosition, ActionUpdate}, func(tx Transaction) (int64, error) {
		var err error
		updated, err = tx.UpdatePosition(id, mutator)
		return id, err
	})
	return updated, res, err
}

// DeletePosition removes a position with its workers and tasks.
func (s *Service) DeletePosition(ctx context.Context, id int64) (Result, error) {
	return s.mutate(ctx, opMeta{"delete_position", EntityPosition, ActionDelete}, func(tx Transaction) (int64, error) {
		return id, tx.DeletePosition(id)
	})
}

// CreateWorker persists a new worker.
func (s *Service) CreateWorker(ctx context.Context, w Worker) (Worker, Result, error) {
	var created Worker
	res, err := s.mutate(ctx, opMeta{"create_worker", EntityWorker, ActionCreate}, func(tx Transaction) (int64, error) {
		var err error
		created, err = tx.CreateWorker(w)
		return created.ID, err
	})
	return created, res, err
}

// UpdateWorker mutates a worker using the provided mutator.
func (s *Service) UpdateWorker(ctx context.Context, id int64, mutator func(*Worker) error) (Worker, Result, error) {
	var updated Worker
	res, err := s.mutate(ctx, opMeta{"update_worker", EntityWorker, ActionUpdate}, func(tx Transaction) (int64, error) {
		var err error
		updated, err = tx.UpdateWorker(id, mutator)
		return id, err
	})
	return updated, res, err
}

// DeleteWorker removes a worker and the assignments it holds.
func (s *Service) DeleteWorker(ctx context.Context, id int64) (Result, error) {
	return s.mutate(ctx, opMeta{"delete_worker", EntityWorker, ActionDelete}, func(tx Transaction) (int64, error) {
		return id, tx.DeleteWorker(id)
	})
}

// CreateTask persists a new task.
func (s *Service) CreateTask(ctx context.Context, t Task) (Task, Result, error) {
	var created Task
	res, err := s.mutate(ctx, opMeta{"create_task", EntityTask, ActionCreate}, func(tx Transaction) (int64, error) {
		var err error
		created, err = tx.CreateTask(t)
		return created.ID, err
	})
	return created, res, err
}

// UpdateTask mutates a task using the provided mutator.
func (s *Service) UpdateTask(ctx context.Context, id int64, mutator func(*Task) error) (Task, Result, error) {
	var updated Task
	res, err := s.mutate(ctx, opMeta{"update_task", EntityTask, ActionUpdate}, func(tx Transaction) (int64, error) {
		var err error
		updated, err = tx.UpdateTask(id, mutator)
		return id, err
	})
	return updated, res, err
}

// DeleteTask removes a task and its assignments.
func (s *Service) DeleteTask(ctx context.Context, id int64) (Result, error) {
	return s.mutate(ctx, opMeta{"delete_task", EntityTask, ActionDelete}, func(tx Transaction) (int64, error) {
		return id, tx.DeleteTask(id)
	})
}

// AssignTask binds a task to a worker outside of an allocator run.
func (s *Service) AssignTask(ctx context.Context, taskID, workerID int64) (Assignment, Result, error) {
	var created Assignment
	res, err := s.mutate(ctx, opMeta{"assign_task", EntityAssignment, ActionCreate}, func(tx Transaction) (int64, error) {
		var err error
		created, err = tx.CreateAssignment(taskID, workerID)
		return created.ID, err
	})
	return created, res, err
}

// DeleteAssignment removes a single assignment.
func (s *Service) DeleteAssignment(ctx context.Context, id int64) (Result, error) {
	return s.mutate(ctx, opMeta{"delete_assignment", EntityAssignment, ActionDelete}, func(tx Transaction) (int64, error) {
		return id, tx.DeleteAssignment(id)
	})
}

// Allocate rebuilds every assignment with the allocator and reports the
// run's KPIs.
func (s *Service) Allocate(ctx context.Context) (allocator.Result, error) {
	var out allocator.Result
	_, err := s.run(ctx, opMeta{name: "allocate", entity: EntityAssignment}, func(ctx context.Context) (int64, Result, error) {
		res, err := allocator.New(s.store, allocator.WithDailyCapacity(s.capacity)).Run(ctx)
		if err != nil {
			return 0, res.Rules, err
		}
		out = res
		return 0, res.Rules, nil
	})
	if err != nil {
		return allocator.Result{}, err
	}
	s.logger.Info("allocation finished",
		"placed", out.Placed,
		"unplaced", out.Unplaced,
		"average_utilization", out.AverageUtilization,
		"worker_days", len(out.WorkerDays),
	)
	if rec, ok := s.metrics.(AllocationRecorder); ok {
		rec.ObserveAllocation(ctx, out)
	}
	return out, nil
}

// BuildReport renders the hours table from a consistent snapshot.
func (s *Service) BuildReport(ctx context.Context) (report.Report, error) {
	var out report.Report
	_, err := s.run(ctx, opMeta{name: "build_report"}, func(ctx context.Context) (int64, Result, error) {
		var err error
		out, err = report.NewAggregator(s.store).Build(ctx)
		return 0, Result{}, err
	})
	return out, err
}

// LoadDataset upserts a fixture dataset in one transaction.
func (s *Service) LoadDataset(ctx context.Context, ds fixtures.Dataset) (fixtures.Summary, Result, error) {
	var summary fixtures.Summary
	res, err := s.run(ctx, opMeta{name: "load_dataset"}, func(ctx context.Context) (int64, Result, error) {
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			summary, err = ds.Apply(tx)
			return err
		})
		return 0, res, err
	})
	if err != nil {
		return fixtures.Summary{}, res, err
	}
	s.logger.Info("dataset loaded",
		"positions", summary.Positions,
		"workers", summary.Workers,
		"tasks", summary.Tasks,
		"assignments", summary.Assignments,
	)
	return summary, res, nil
}

// IsRuleViolation reports whether err was raised by a blocking rule and
// returns the offending result.
func IsRuleViolation(err error) (Result, bool) {
	var rv RuleViolationError
	if errors.As(err, &rv) {
		return rv.Result, true
	}
	return Result{}, false
}
