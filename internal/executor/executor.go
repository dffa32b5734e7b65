package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

var (
	ErrDuplicate        = errors.New("executor: duplicate request")
	ErrExpired          = errors.New("executor: request expired")
	ErrStrategyDisabled = errors.New("executor: strategy disabled")
	ErrMalformed        = errors.New("executor: malformed request")
	ErrStopped          = errors.New("executor: stopped")
)

// Engine is the guarded core the executor drives.
type Engine interface {
	Execute(ctx context.Context, caller common.Address, m domain.Maneuver) (domain.Execution, error)
	Withdraw(ctx context.Context, caller common.Address, w domain.Withdrawal) error
}

// Recorder is told about every attempt that reached the engine.
type Recorder interface {
	RecordExecution(ctx context.Context, exec domain.Execution)
}

// Result is the outcome of one request.
type Result struct {
	RequestID string
	Execution domain.Execution
	Err       error
}

type job struct {
	req   domain.Request
	reply chan Result
}

// Executor reads operator requests from a queue, applies deduplication,
// expiry and the strategy filter, then runs them one at a time through the
// engine. Results go to the configured recorders.
type Executor struct {
	queue    chan job
	engine   Engine
	dedup    *Dedup
	allowed  map[domain.StrategyTag]bool
	recorder Recorder
	audit    domain.AuditStore
	logger   *slog.Logger

	lock    domain.LockManager
	lockKey string
	lockTTL time.Duration

	cleanupInterval time.Duration
	stopped         chan struct{}
	// Senders hold mu for reading; Run takes it once stopped is closed, so
	// nothing lands in the queue after the final drain.
	mu sync.RWMutex
}

// NewExecutor creates an Executor with a queue of queueSize requests.
// allowed restricts which strategies run; nil or empty accepts all.
func NewExecutor(engine Engine, queueSize int, allowed []domain.StrategyTag, logger *slog.Logger) *Executor {
	e := &Executor{
		queue:           make(chan job, queueSize),
		engine:          engine,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
		stopped:         make(chan struct{}),
	}
	if len(allowed) > 0 {
		e.allowed = make(map[domain.StrategyTag]bool, len(allowed))
		for _, t := range allowed {
			e.allowed[t] = true
		}
	}
	return e
}

// SetRecorder routes finished executions to r.
func (e *Executor) SetRecorder(r Recorder) {
	e.recorder = r
}

// SetAudit enables audit logging of withdrawals and rejections.
func (e *Executor) SetAudit(a domain.AuditStore) {
	e.audit = a
}

// SetLock makes every engine call hold a distributed lock, so that at most
// one process drives the same custody at a time.
func (e *Executor) SetLock(lm domain.LockManager, key string, ttl time.Duration) {
	e.lock = lm
	e.lockKey = key
	e.lockTTL = ttl
}

// Submit queues req without waiting for its result.
func (e *Executor) Submit(ctx context.Context, req domain.Request) error {
	return e.enqueue(ctx, job{req: req})
}

// Do queues req and waits for its result.
func (e *Executor) Do(ctx context.Context, req domain.Request) (Result, error) {
	reply := make(chan Result, 1)
	if err := e.enqueue(ctx, job{req: req, reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (e *Executor) enqueue(ctx context.Context, j job) error {
	if j.req.ID == "" {
		j.req.ID = uuid.New().String()
	}
	if j.req.CreatedAt.IsZero() {
		j.req.CreatedAt = time.Now().UTC()
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	select {
	case <-e.stopped:
		return ErrStopped
	default:
	}
	select {
	case e.queue <- j:
		return nil
	case <-e.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run starts the executor's main loop. It processes requests until the
// context is cancelled, at which point it drains any remaining requests in
// the queue and returns.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started")
	defer e.logger.Info("executor stopped")

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(e.stopped)
			e.mu.Lock()
			e.drain()
			e.mu.Unlock()
			return ctx.Err()

		case j := <-e.queue:
			e.handle(ctx, j)

		case <-cleanupTicker.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) handle(ctx context.Context, j job) {
	res := e.process(ctx, j.req)
	if j.reply != nil {
		j.reply <- res
	}
}

// process handles a single request through the full validation and
// execution pipeline.
func (e *Executor) process(ctx context.Context, req domain.Request) Result {
	log := e.logger.With(
		slog.String("request_id", req.ID),
		slog.String("source", req.Source),
		slog.String("op", string(req.Op)),
	)
	res := Result{RequestID: req.ID}

	// 1. Expiry check.
	if req.Expired(time.Now().UTC()) {
		log.Warn("request expired, skipping", slog.Time("expires_at", req.ExpiresAt))
		res.Err = ErrExpired
		e.auditLog(ctx, "request_expired", req, nil)
		return res
	}

	// 2. Shape and strategy filter.
	switch req.Op {
	case domain.OpExecute:
		if req.Maneuver == nil {
			res.Err = fmt.Errorf("%w: execute without maneuver", ErrMalformed)
			return res
		}
		if e.allowed != nil && !e.allowed[req.Maneuver.Strategy] {
			log.Warn("strategy disabled, skipping", slog.String("strategy", req.Maneuver.Strategy.String()))
			res.Err = fmt.Errorf("%w: %s", ErrStrategyDisabled, req.Maneuver.Strategy)
			e.auditLog(ctx, "strategy_disabled", req, nil)
			return res
		}
	case domain.OpWithdraw:
		if req.Withdrawal == nil {
			res.Err = fmt.Errorf("%w: withdraw without withdrawal", ErrMalformed)
			return res
		}
	default:
		res.Err = fmt.Errorf("%w: unknown op %q", ErrMalformed, req.Op)
		return res
	}

	// 3. Single-operator lock.
	if e.lock != nil {
		unlock, err := e.lock.Acquire(ctx, e.lockKey, e.lockTTL)
		if err != nil {
			log.Warn("operator lock unavailable", slog.String("error", err.Error()))
			res.Err = fmt.Errorf("executor: lock: %w", err)
			return res
		}
		defer unlock()
	}

	// 4. Deduplication. An ID is spent only once it gets this far, so a
	// request refused above may be retried unchanged.
	if e.dedup.Seen(req.ID, req.ExpiresAt) {
		log.Debug("request deduplicated, skipping")
		res.Err = ErrDuplicate
		return res
	}

	// 5. Engine call.
	switch req.Op {
	case domain.OpExecute:
		m := *req.Maneuver
		if m.ID == "" {
			m.ID = req.ID
		}
		exec, err := e.engine.Execute(ctx, req.Caller, m)
		exec.RequestID = req.ID
		res.Execution, res.Err = exec, err
		if e.recorder != nil {
			e.recorder.RecordExecution(ctx, exec)
		}
	case domain.OpWithdraw:
		w := *req.Withdrawal
		res.Err = e.engine.Withdraw(ctx, req.Caller, w)
		e.auditLog(ctx, "withdraw", req, res.Err)
	}
	return res
}

func (e *Executor) auditLog(ctx context.Context, event string, req domain.Request, err error) {
	if e.audit == nil {
		return
	}
	detail := map[string]any{
		"request_id": req.ID,
		"source":     req.Source,
		"caller":     req.Caller.Hex(),
	}
	if w := req.Withdrawal; w != nil {
		detail["asset"] = w.Asset.Hex()
		detail["amount"] = w.Amount.String()
		detail["to"] = w.To.Hex()
	}
	if m := req.Maneuver; m != nil {
		detail["strategy"] = m.Strategy.String()
	}
	if err != nil {
		detail["error"] = err.Error()
		detail["kind"] = domain.KindOf(err)
	}
	if aerr := e.audit.Log(ctx, event, detail); aerr != nil {
		e.logger.Warn("audit log failed", slog.String("event", event), slog.String("error", aerr.Error()))
	}
}

// drain answers any requests already buffered in the queue after context
// cancellation so that no caller waits forever.
func (e *Executor) drain() {
	for {
		select {
		case j := <-e.queue:
			e.logger.Warn("dropping request after shutdown", slog.String("request_id", j.req.ID))
			if j.reply != nil {
				j.reply <- Result{RequestID: j.req.ID, Err: ErrStopped}
			}
		default:
			return
		}
	}
}

// SetDedupTTL sets the minimum time request IDs are held. Must be called
// before Run.
func (e *Executor) SetDedupTTL(ttl time.Duration) {
	e.dedup = NewDedup(ttl)
}

var _ fmt.Stringer = (*Executor)(nil)

// String returns a human-readable description of the executor.
func (e *Executor) String() string {
	return fmt.Sprintf("Executor(queue=%d/%d)", len(e.queue), cap(e.queue))
}
