package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RequestOp selects the guarded entry point a request targets.
type RequestOp string

const (
	OpExecute  RequestOp = "execute"
	OpWithdraw RequestOp = "withdraw"
)

// Withdrawal moves a custody balance out to an operator-chosen address.
type Withdrawal struct {
	Asset  common.Address `json:"asset"`
	Amount *big.Int       `json:"amount"`
	To     common.Address `json:"to"`
}

// Request is an operator instruction queued for the executor. Caller is the
// identity recovered from the request signature, never a client claim.
type Request struct {
	ID         string         `json:"id"`
	Source     string         `json:"source"` // "api", "stream" or "config"
	Op         RequestOp      `json:"op"`
	Caller     common.Address `json:"caller"`
	Maneuver   *Maneuver      `json:"maneuver,omitempty"`
	Withdrawal *Withdrawal    `json:"withdrawal,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	ExpiresAt  time.Time      `json:"expires_at"`
}

// Expired reports whether the request is past its expiry at now.
func (r Request) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string
	Operator      string
	Custody       string
	InCall        bool
	UptimeSeconds int64
	Executions    int64
	Strategies    []string
}
