package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExecStatus is the terminal state of a guarded call.
type ExecStatus string

const (
	ExecSucceeded ExecStatus = "succeeded"
	ExecReverted  ExecStatus = "reverted"
	ExecRejected  ExecStatus = "rejected" // refused at the gate, nothing ran
)

// Execution records one guarded call and its outcome.
type Execution struct {
	ID          string
	RequestID   string
	Strategy    StrategyTag
	Funding     FundingSource
	Asset       common.Address
	Capital     *big.Int
	Cost        *big.Int
	Premium     *big.Int
	Profit      *big.Int
	Payout      *big.Int
	Beneficiary common.Address
	Legs        []LegResult
	Status      ExecStatus
	ErrorKind   string
	Component   string
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Succeeded reports whether the call committed.
func (e Execution) Succeeded() bool {
	return e.Status == ExecSucceeded
}

// ExecutionEvent is the payload published on the event bus after each call.
type ExecutionEvent struct {
	ID        string `json:"id"`
	RequestID string `json:"request_id,omitempty"`
	Strategy  string `json:"strategy"`
	Funding   string `json:"funding"`
	Asset     string `json:"asset"`
	Status    string `json:"status"`
	Profit    string `json:"profit,omitempty"`
	Payout    string `json:"payout,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Component string `json:"component,omitempty"`
	Legs      int    `json:"legs"`
	At        int64  `json:"at"`
}

// Event converts the execution into its bus representation.
func (e Execution) Event() ExecutionEvent {
	return ExecutionEvent{
		ID:        e.ID,
		RequestID: e.RequestID,
		Strategy:  e.Strategy.String(),
		Funding:   string(e.Funding),
		Asset:     e.Asset.Hex(),
		Status:    string(e.Status),
		Profit:    bigString(e.Profit),
		Payout:    bigString(e.Payout),
		ErrorKind: e.ErrorKind,
		Component: e.Component,
		Legs:      len(e.Legs),
		At:        e.CompletedAt.UnixMilli(),
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
