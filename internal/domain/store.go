package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ExecutionFilter narrows execution listings.
type ExecutionFilter struct {
	ListOpts
	Strategy StrategyTag
	Status   ExecStatus
}

// ExecutionStore persists guarded call outcomes and their legs.
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	GetByID(ctx context.Context, id string) (Execution, error)
	List(ctx context.Context, filter ExecutionFilter) ([]Execution, error)
	SumPayout(ctx context.Context, asset common.Address, since time.Time) (*big.Int, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
