package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/campus/pkg/observability"
)

// ErrAlreadyStarted is returned by Start on a running reconciler
var ErrAlreadyStarted = errors.New("reconciler already started")

// Repairer inserts the assignment rows missing for profiles' primary roles and
// returns how many it inserted. *postgres.AssignmentStore implements it.
type Repairer interface {
	RepairPrimaryAssignments(ctx context.Context, limit int) (int, error)
}

// Config configures a Reconciler
type Config struct {
	// Schedule is a standard cron spec or descriptor such as "@every 10m"
	Schedule string
	// BatchSize bounds the rows repaired per statement
	BatchSize int
	// MaxBatches bounds the statements per run
	MaxBatches int
	// Timeout bounds one scheduled run
	Timeout time.Duration
}

// DefaultConfig returns default reconciler configuration
func DefaultConfig() Config {
	return Config{
		Schedule:   "@every 10m",
		BatchSize:  500,
		MaxBatches: 100,
		Timeout:    5 * time.Minute,
	}
}

// Reconciler runs the repair in batches, once or on a schedule
type Reconciler struct {
	repairer Repairer
	config   Config
	logger   *observability.Logger
	metrics  *observability.Metrics

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a reconciler. Zero config fields take their defaults.
func New(repairer Repairer, config Config, logger *observability.Logger, metrics *observability.Metrics) *Reconciler {
	defaults := DefaultConfig()
	if config.Schedule == "" {
		config.Schedule = defaults.Schedule
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = defaults.MaxBatches
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Reconciler{
		repairer: repairer,
		config:   config,
		logger:   logger.WithField("component", "reconciler"),
		metrics:  metrics,
	}
}

// RunOnce repairs batches until one comes back short, MaxBatches is reached or
// ctx ends. It returns the rows repaired, including those of a run that failed
// part way.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	total := 0

	for batch := 0; batch < r.config.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return r.finish(total, start, err)
		}

		n, err := r.repairer.RepairPrimaryAssignments(ctx, r.config.BatchSize)
		total += n
		if err != nil {
			return r.finish(total, start, fmt.Errorf("batch %d: %w", batch, err))
		}
		if n < r.config.BatchSize {
			break
		}
	}

	return r.finish(total, start, nil)
}

func (r *Reconciler) finish(total int, start time.Time, err error) (int, error) {
	log := r.logger.WithFields(map[string]interface{}{
		"repaired":    total,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if err != nil {
		r.metrics.RecordReconcile("error", total)
		log.WithError(err).Error("Role assignment reconciliation failed")
		return total, err
	}

	r.metrics.RecordReconcile("success", total)
	if total > 0 {
		log.Info("Repaired missing primary role assignments")
	} else {
		log.Debug("Role assignments consistent")
	}
	return total, nil
}

// Start schedules RunOnce. A run still going when the next is due is skipped.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return ErrAlreadyStarted
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{r.logger})))
	if _, err := c.AddFunc(r.config.Schedule, r.scheduledRun); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", r.config.Schedule, err)
	}
	c.Start()
	r.cron = c

	r.logger.WithField("schedule", r.config.Schedule).Info("Reconciler started")
	return nil
}

func (r *Reconciler) scheduledRun() {
	defer observability.RecoverPanic(r.logger, "role reconciler")

	ctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
	defer cancel()
	_, _ = r.RunOnce(ctx)
}

// Stop stops scheduling and waits for a running repair to finish or ctx to end
func (r *Reconciler) Stop(ctx context.Context) error {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		r.logger.Info("Reconciler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the structured logger to cron's logger interface
type cronLogger struct {
	logger *observability.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(fieldsOf(keysAndValues)).Error(msg)
}

func fieldsOf(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
