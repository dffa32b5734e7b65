package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Token
// amounts are NUMERIC(78,0) and cross the driver as decimal text.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, request_id, strategy, funding, asset,
	capital::text, cost::text, premium::text, profit::text, payout::text,
	beneficiary, status, error_kind, component, error, started_at, completed_at`

// Create inserts an execution and its legs in one transaction.
func (s *ExecutionStore) Create(ctx context.Context, exec domain.Execution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, request_id, strategy, funding, asset, capital, cost, premium, profit, payout,
			beneficiary, status, error_kind, component, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric, $10::text::numeric,
			$11, $12, $13, $14, $15, $16, $17)`,
		exec.ID, exec.RequestID, exec.Strategy.String(), string(exec.Funding), exec.Asset.Hex(),
		numeric(exec.Capital), numeric(exec.Cost), numeric(exec.Premium), numeric(exec.Profit), numeric(exec.Payout),
		exec.Beneficiary.Hex(), string(exec.Status), exec.ErrorKind, exec.Component, exec.Error,
		exec.StartedAt, exec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution: %w", err)
	}

	for i, leg := range exec.Legs {
		_, err = tx.Exec(ctx, `
			INSERT INTO execution_legs (execution_id, position, venue, asset_in, asset_out, amount_in, min_amount_out, quoted, realized)
			VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7::text::numeric, $8::text::numeric, $9::text::numeric)`,
			exec.ID, i, leg.Leg.Venue, leg.Leg.AssetIn.Hex(), leg.Leg.AssetOut.Hex(),
			numeric(leg.Leg.AmountIn), numeric(leg.Leg.MinAmountOut), numeric(leg.Quoted), numeric(leg.Realized),
		)
		if err != nil {
			return fmt.Errorf("postgres: insert execution_leg: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// GetByID returns an execution with its legs.
func (s *ExecutionStore) GetByID(ctx context.Context, id string) (domain.Execution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = $1`, id)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Execution{}, domain.ErrNotFound
		}
		return domain.Execution{}, fmt.Errorf("postgres: get execution %s: %w", id, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT venue, asset_in, asset_out, amount_in::text, min_amount_out::text, quoted::text, realized::text
		FROM execution_legs WHERE execution_id = $1 ORDER BY position`,
		id,
	)
	if err != nil {
		return domain.Execution{}, fmt.Errorf("postgres: get execution_legs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			lr                           domain.LegResult
			assetIn, assetOut            string
			amountIn, minOut, quoted, re *string
		)
		if err := rows.Scan(&lr.Leg.Venue, &assetIn, &assetOut, &amountIn, &minOut, &quoted, &re); err != nil {
			return domain.Execution{}, fmt.Errorf("postgres: scan execution_leg: %w", err)
		}
		lr.Leg.AssetIn = common.HexToAddress(assetIn)
		lr.Leg.AssetOut = common.HexToAddress(assetOut)
		lr.Leg.AmountIn = fromNumeric(amountIn)
		lr.Leg.MinAmountOut = fromNumeric(minOut)
		lr.Quoted = fromNumeric(quoted)
		lr.Realized = fromNumeric(re)
		exec.Legs = append(exec.Legs, lr)
	}
	if err := rows.Err(); err != nil {
		return domain.Execution{}, fmt.Errorf("postgres: execution_legs rows: %w", err)
	}
	return exec, nil
}

// List returns executions newest first. Legs are not loaded.
func (s *ExecutionStore) List(ctx context.Context, ef domain.ExecutionFilter) ([]domain.Execution, error) {
	if ef.Limit <= 0 {
		ef.Limit = 50
	}
	var f filter
	f.timeRange("started_at", ef.ListOpts)
	if ef.Strategy.Valid() {
		f.add("strategy = ?", ef.Strategy.String())
	}
	if ef.Status != "" {
		f.add("status = ?", string(ef.Status))
	}
	query := `SELECT ` + executionColumns + ` FROM executions` + f.where()
	query += f.page("started_at DESC", ef.ListOpts)

	rows, err := s.pool.Query(ctx, query, f.args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		out = append(out, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions rows: %w", err)
	}
	return out, nil
}

// SumPayout totals committed payouts in asset since the given time.
func (s *ExecutionStore) SumPayout(ctx context.Context, asset common.Address, since time.Time) (*big.Int, error) {
	var total *string
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(payout), 0)::text FROM executions
		WHERE asset = $1 AND status = $2 AND completed_at >= $3`,
		asset.Hex(), string(domain.ExecSucceeded), since,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("postgres: sum payout: %w", err)
	}
	if v := fromNumeric(total); v != nil {
		return v, nil
	}
	return new(big.Int), nil
}

func scanExecution(row pgx.Row) (domain.Execution, error) {
	var (
		exec                                   domain.Execution
		strategy, funding, asset, beneficiary  string
		status                                 string
		capital, cost, premium, profit, payout *string
	)
	err := row.Scan(&exec.ID, &exec.RequestID, &strategy, &funding, &asset,
		&capital, &cost, &premium, &profit, &payout,
		&beneficiary, &status, &exec.ErrorKind, &exec.Component, &exec.Error,
		&exec.StartedAt, &exec.CompletedAt,
	)
	if err != nil {
		return domain.Execution{}, err
	}
	tag, err := domain.ParseStrategyTag(strategy)
	if err != nil {
		return domain.Execution{}, err
	}
	exec.Strategy = tag
	exec.Funding = domain.FundingSource(funding)
	exec.Asset = common.HexToAddress(asset)
	exec.Beneficiary = common.HexToAddress(beneficiary)
	exec.Status = domain.ExecStatus(status)
	exec.Capital = fromNumeric(capital)
	exec.Cost = fromNumeric(cost)
	exec.Premium = fromNumeric(premium)
	exec.Profit = fromNumeric(profit)
	exec.Payout = fromNumeric(payout)
	return exec, nil
}

// numeric renders v for a NUMERIC column; nil stays NULL.
func numeric(v *big.Int) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}

func fromNumeric(s *string) *big.Int {
	if s == nil {
		return nil
	}
	v, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil
	}
	return v
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
