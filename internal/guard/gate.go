package guard

import (
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// GateState is the mutual-exclusion state of one engine instance.
type GateState int32

const (
	Idle GateState = iota
	InCall
)

func (s GateState) String() string {
	if s == InCall {
		return "in_call"
	}
	return "idle"
}

// Gate admits only the operator, and only one call at a time. A call that
// arrives while another is in flight, including a nested callback from a
// venue, is refused rather than queued.
type Gate struct {
	operator common.Address
	state    atomic.Int32
}

// NewGate creates a Gate for the given operator identity.
func NewGate(operator common.Address) *Gate {
	return &Gate{operator: operator}
}

// Operator returns the single identity allowed through the gate.
func (g *Gate) Operator() common.Address {
	return g.operator
}

// State returns the current gate state.
func (g *Gate) State() GateState {
	return GateState(g.state.Load())
}

// Enter moves the gate from Idle to InCall. The caller is checked first, so
// an unauthorized caller learns nothing about whether a call is in flight.
// The returned release moves the gate back to Idle and may be called more
// than once.
func (g *Gate) Enter(caller common.Address) (func(), error) {
	if g.operator == (common.Address{}) || caller != g.operator {
		return nil, domain.Failf(domain.ErrUnauthorized, "gate", "caller %s is not the operator", caller.Hex())
	}
	if !g.state.CompareAndSwap(int32(Idle), int32(InCall)) {
		return nil, domain.Fail(domain.ErrReentrantCall, "gate", nil)
	}
	var once sync.Once
	return func() {
		once.Do(func() { g.state.Store(int32(Idle)) })
	}, nil
}
