// Package engine is the guarded execution core. Every state-mutating entry
// point passes the operator gate, runs inside a chain snapshot, and either
// commits in full or reverts to the exact pre-call state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/flashbot/internal/domain"
	"github.com/alanyoungcy/flashbot/internal/flashloan"
	"github.com/alanyoungcy/flashbot/internal/guard"
	"github.com/alanyoungcy/flashbot/internal/liquidation"
	"github.com/alanyoungcy/flashbot/internal/route"
	"github.com/alanyoungcy/flashbot/internal/strategy"
)

// DefaultDeadlineHorizon is the leg deadline, in seconds from call start.
const DefaultDeadlineHorizon = 120

// Config holds the identities and limits of one engine instance.
type Config struct {
	Custody              common.Address
	Operator             common.Address
	DeadlineHorizon      uint64
	LiquidationMarkupBps uint64
	MaxPriceAge          uint64
}

// Option customizes an Engine.
type Option func(*strategy.Maneuvers)

// WithManeuver replaces the standard maneuver for tag.
func WithManeuver(tag domain.StrategyTag, m strategy.Maneuver) Option {
	return func(ms *strategy.Maneuvers) {
		switch tag {
		case domain.StrategyArbitrage:
			ms.Arbitrage = m
		case domain.StrategyLiquidation:
			ms.Liquidation = m
		case domain.StrategyFrontRun:
			ms.FrontRun = m
		case domain.StrategySandwich:
			ms.Sandwich = m
		case domain.StrategyHighFrequency:
			ms.HighFrequency = m
		}
	}
}

// Engine is one guarded contract instance holding custody of its assets.
type Engine struct {
	cfg        Config
	chain      domain.Chain
	gate       *guard.Gate
	allowances *guard.Allowances
	dispatcher *strategy.Dispatcher
	adapter    *flashloan.Adapter
	logger     *slog.Logger
}

// New wires an Engine against chain. facility may be nil, in which case
// borrowed-capital maneuvers are refused.
func New(cfg Config, chain domain.Chain, reg *domain.Registry, facility domain.FlashLoanFacility, logger *slog.Logger, opts ...Option) (*Engine, error) {
	if cfg.Custody == (common.Address{}) {
		return nil, errors.New("engine: custody address is required")
	}
	if cfg.Operator == (common.Address{}) {
		return nil, errors.New("engine: operator address is required")
	}
	if cfg.DeadlineHorizon == 0 {
		cfg.DeadlineHorizon = DefaultDeadlineHorizon
	}
	logger = logger.With(slog.String("component", "engine"))

	allowances := guard.NewAllowances(chain, cfg.Custody)
	legs := route.NewLegExecutor(chain, reg, allowances, cfg.Custody, logger)
	composer := route.NewComposer(legs, logger)
	estimator := liquidation.NewEstimator(reg, chain, cfg.LiquidationMarkupBps, cfg.MaxPriceAge)
	liquidator := liquidation.NewLiquidator(chain, reg, estimator, allowances, cfg.Custody, logger)

	maneuvers := strategy.Standard(composer, liquidator, reg, chain, cfg.MaxPriceAge)
	for _, opt := range opts {
		opt(&maneuvers)
	}
	dispatcher, err := strategy.NewDispatcher(maneuvers, logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:        cfg,
		chain:      chain,
		gate:       guard.NewGate(cfg.Operator),
		allowances: allowances,
		dispatcher: dispatcher,
		logger:     logger,
	}
	if facility != nil {
		e.adapter = flashloan.NewAdapter(cfg.Custody, chain, facility, dispatcher, allowances, logger)
	}
	return e, nil
}

// Custody is the account that holds working capital.
func (e *Engine) Custody() common.Address { return e.cfg.Custody }

// Operator is the only identity allowed to call the engine.
func (e *Engine) Operator() common.Address { return e.cfg.Operator }

// State reports whether a call is in flight.
func (e *Engine) State() guard.GateState { return e.gate.State() }

// Receiver returns the flash-loan callback receiver, or nil when no facility
// is configured.
func (e *Engine) Receiver() domain.FlashLoanReceiver {
	if e.adapter == nil {
		return nil
	}
	return e.adapter
}

// guarded runs fn behind the gate inside a snapshot. entered is false when
// the gate refused the call.
func (e *Engine) guarded(caller common.Address, fn func() error) (entered bool, err error) {
	release, err := e.gate.Enter(caller)
	if err != nil {
		return false, err
	}
	defer release()

	snap := e.chain.Snapshot()
	if err := fn(); err != nil {
		e.chain.RevertToSnapshot(snap)
		e.allowances.Reset()
		return true, err
	}
	e.chain.Commit(snap)
	return true, nil
}

// Execute runs one maneuver with the funding it names.
func (e *Engine) Execute(ctx context.Context, caller common.Address, m domain.Maneuver) (domain.Execution, error) {
	exec := domain.Execution{
		ID:          m.ID,
		Strategy:    m.Strategy,
		Funding:     m.Funding,
		Asset:       m.Asset,
		Capital:     m.Amount,
		Cost:        m.Cost,
		Beneficiary: m.Beneficiary,
		StartedAt:   time.Now().UTC(),
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.Funding == "" {
		exec.Funding = domain.FundingCustody
	}

	entered, err := e.guarded(caller, func() error {
		return e.execute(ctx, m, &exec)
	})
	exec.CompletedAt = time.Now().UTC()

	log := e.logger.With(
		slog.String("execution_id", exec.ID),
		slog.String("strategy", m.Strategy.String()),
		slog.String("funding", string(exec.Funding)),
	)
	if err != nil {
		exec.Status = domain.ExecReverted
		if !entered {
			exec.Status = domain.ExecRejected
		}
		exec.Legs, exec.Profit, exec.Payout, exec.Premium = nil, nil, nil, nil
		exec.ErrorKind = domain.KindOf(err)
		exec.Component = domain.ComponentOf(err)
		exec.Error = err.Error()
		log.Warn("maneuver failed",
			slog.String("status", string(exec.Status)),
			slog.String("kind", exec.ErrorKind),
			slog.String("failed_component", exec.Component),
			slog.String("error", exec.Error),
		)
		return exec, err
	}

	exec.Status = domain.ExecSucceeded
	log.Info("maneuver committed",
		slog.String("profit", exec.Profit.String()),
		slog.String("payout", exec.Payout.String()),
		slog.Int("legs", len(exec.Legs)),
	)
	return exec, nil
}

func (e *Engine) execute(ctx context.Context, m domain.Maneuver, exec *domain.Execution) error {
	if err := validateManeuver(m); err != nil {
		return err
	}
	deadline := e.chain.Now() + e.cfg.DeadlineHorizon

	var out strategy.Outcome
	switch exec.Funding {
	case domain.FundingCustody:
		bal, err := e.chain.BalanceOf(ctx, m.Asset, e.cfg.Custody)
		if err != nil {
			return domain.Fail(domain.ErrExternalCallFailed, m.Asset.Hex(), fmt.Errorf("balance of custody: %w", err))
		}
		if bal.Cmp(m.Amount) < 0 {
			return domain.Failf(domain.ErrInvalidManeuver, "custody", "custody holds %s of %s, maneuver needs %s", bal, m.Asset.Hex(), m.Amount)
		}
		out, err = e.dispatcher.Dispatch(ctx, m.Strategy, strategy.Call{
			Asset:    m.Asset,
			Amount:   new(big.Int).Set(m.Amount),
			Cost:     costOrZero(m.Cost),
			Deadline: deadline,
		}, m.Params)
		if err != nil {
			return err
		}

	case domain.FundingFlashLoan:
		if e.adapter == nil {
			return domain.Failf(domain.ErrInvalidManeuver, "flashloan", "no flash-loan facility configured")
		}
		loan, err := e.adapter.Borrow(ctx, flashloan.Request{
			Asset:           m.Asset,
			Amount:          m.Amount,
			LoanFractionBps: m.LoanFractionBps,
			Strategy:        m.Strategy,
			Params:          m.Params,
			Cost:            costOrZero(m.Cost),
			Deadline:        deadline,
		})
		if err != nil {
			return err
		}
		out = loan.Outcome
		exec.Capital = loan.Obligation.Principal
		exec.Premium = loan.Obligation.Premium

	default:
		return domain.Failf(domain.ErrInvalidManeuver, "engine", "unknown funding source %q", exec.Funding)
	}

	if err := e.settle(ctx, m.Asset, m.Beneficiary, out.Payout); err != nil {
		return err
	}
	exec.Legs = out.Legs
	exec.Profit = out.Profit
	exec.Payout = out.Payout
	return nil
}

// settle pays the beneficiary. Loan repayment has already been pulled by
// the facility at this point.
func (e *Engine) settle(ctx context.Context, asset, beneficiary common.Address, payout *big.Int) error {
	if payout == nil || payout.Sign() <= 0 || beneficiary == e.cfg.Custody {
		return nil
	}
	ok, err := e.chain.Transfer(ctx, asset, e.cfg.Custody, beneficiary, payout)
	if err != nil {
		return domain.Fail(domain.ErrExternalCallFailed, asset.Hex(), fmt.Errorf("payout: %w", err))
	}
	if !ok {
		return domain.Failf(domain.ErrExternalCallFailed, asset.Hex(), "payout of %s to %s refused", payout, beneficiary.Hex())
	}
	return nil
}

func validateManeuver(m domain.Maneuver) error {
	if !m.Strategy.Valid() {
		return domain.Failf(domain.ErrUnknownStrategy, "engine", "tag %d", uint8(m.Strategy))
	}
	if m.Asset == (common.Address{}) {
		return domain.Failf(domain.ErrInvalidManeuver, "engine", "missing asset")
	}
	if m.Amount == nil || m.Amount.Sign() <= 0 {
		return domain.Failf(domain.ErrInvalidManeuver, "engine", "non-positive amount %v", m.Amount)
	}
	if m.Cost != nil && m.Cost.Sign() < 0 {
		return domain.Failf(domain.ErrInvalidManeuver, "engine", "negative cost %s", m.Cost)
	}
	if m.Beneficiary == (common.Address{}) {
		return domain.Failf(domain.ErrInvalidManeuver, "engine", "missing beneficiary")
	}
	return nil
}

func costOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
