// Package evm reads live contract state over JSON-RPC. Nothing here signs
// or sends transactions.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// ContractCaller is the subset of the RPC used by Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client issues eth_call reads pinned to one block. A nil block reads the
// latest state.
type Client struct {
	caller ContractCaller
	block  *big.Int
}

// NewClient wraps caller.
func NewClient(caller ContractCaller) *Client {
	return &Client{caller: caller}
}

// Dial connects to rpcURL. The returned close func releases the connection.
func Dial(ctx context.Context, rpcURL string) (*Client, func(), error) {
	rpcURL = strings.TrimSpace(rpcURL)
	if rpcURL == "" {
		return nil, nil, fmt.Errorf("evm: rpc url required")
	}
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial: %w", err)
	}
	return NewClient(ec), ec.Close, nil
}

// AtBlock returns a client whose reads are pinned to block.
func (c *Client) AtBlock(block *big.Int) *Client {
	return &Client{caller: c.caller, block: block}
}

func (c *Client) call(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("evm: pack %s: %w", method, err)
	}
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, c.block)
	if err != nil {
		return nil, fmt.Errorf("evm: %s on %s: %w", method, to.Hex(), err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("evm: %s on %s: empty result", method, to.Hex())
	}
	values, err := parsed.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	return values, nil
}

func (c *Client) callUint(ctx context.Context, parsed abi.ABI, to common.Address, method string, args ...any) (*big.Int, error) {
	values, err := c.call(ctx, parsed, to, method, args...)
	if err != nil {
		return nil, err
	}
	v, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: %s: unexpected result type %T", method, values[0])
	}
	return v, nil
}

// BalanceOf reads an ERC20 balance.
func (c *Client) BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error) {
	return c.callUint(ctx, erc20ABI, token, "balanceOf", holder)
}

// Allowance reads an ERC20 allowance.
func (c *Client) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return c.callUint(ctx, erc20ABI, token, "allowance", owner, spender)
}

// Decimals reads an ERC20's decimals.
func (c *Client) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	values, err := c.call(ctx, erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("evm: decimals: unexpected result type %T", values[0])
	}
	return d, nil
}

// AmountsOut calls a UniswapV2-style router's getAmountsOut.
func (c *Client) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	values, err := c.call(ctx, routerABI, router, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: getAmountsOut: unexpected result type %T", values[0])
	}
	return amounts, nil
}

// PairState is a pair's tokens and reserves.
type PairState struct {
	Address  common.Address
	Token0   common.Address
	Token1   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
}

// Pair reads a UniswapV2-style pair.
func (c *Client) Pair(ctx context.Context, pair common.Address) (PairState, error) {
	st := PairState{Address: pair}
	values, err := c.call(ctx, pairABI, pair, "getReserves")
	if err != nil {
		return st, err
	}
	var ok0, ok1 bool
	st.Reserve0, ok0 = values[0].(*big.Int)
	st.Reserve1, ok1 = values[1].(*big.Int)
	if !ok0 || !ok1 {
		return st, fmt.Errorf("evm: getReserves: unexpected result types %T, %T", values[0], values[1])
	}
	if st.Token0, err = c.address(ctx, pair, "token0"); err != nil {
		return st, err
	}
	if st.Token1, err = c.address(ctx, pair, "token1"); err != nil {
		return st, err
	}
	return st, nil
}

func (c *Client) address(ctx context.Context, pair common.Address, method string) (common.Address, error) {
	values, err := c.call(ctx, pairABI, pair, method)
	if err != nil {
		return common.Address{}, err
	}
	a, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("evm: %s: unexpected result type %T", method, values[0])
	}
	return a, nil
}

// LatestRound reads a Chainlink-style aggregator.
func (c *Client) LatestRound(ctx context.Context, feed common.Address) (domain.PriceRound, error) {
	values, err := c.call(ctx, aggregatorABI, feed, "latestRoundData")
	if err != nil {
		return domain.PriceRound{}, err
	}
	roundID, _ := values[0].(*big.Int)
	answer, _ := values[1].(*big.Int)
	updatedAt, _ := values[3].(*big.Int)
	answeredIn, _ := values[4].(*big.Int)
	if roundID == nil || answer == nil || updatedAt == nil || answeredIn == nil {
		return domain.PriceRound{}, fmt.Errorf("evm: latestRoundData: malformed result")
	}
	dec, err := c.call(ctx, aggregatorABI, feed, "decimals")
	if err != nil {
		return domain.PriceRound{}, err
	}
	decimals, _ := dec[0].(uint8)
	return domain.PriceRound{
		RoundID:         roundID,
		Answer:          answer,
		UpdatedAt:       updatedAt.Uint64(),
		AnsweredInRound: answeredIn,
		Decimals:        decimals,
	}, nil
}

// LiquidationIncentive reads a comptroller's liquidationIncentiveMantissa.
func (c *Client) LiquidationIncentive(ctx context.Context, comptroller common.Address) (*big.Int, error) {
	return c.callUint(ctx, comptrollerABI, comptroller, "liquidationIncentiveMantissa")
}

// Shortfall reads getAccountLiquidity and returns the shortfall component.
func (c *Client) Shortfall(ctx context.Context, comptroller, account common.Address) (*big.Int, error) {
	values, err := c.call(ctx, comptrollerABI, comptroller, "getAccountLiquidity", account)
	if err != nil {
		return nil, err
	}
	code, _ := values[0].(*big.Int)
	shortfall, _ := values[2].(*big.Int)
	if code == nil || shortfall == nil {
		return nil, fmt.Errorf("evm: getAccountLiquidity: malformed result")
	}
	if code.Sign() != 0 {
		return nil, fmt.Errorf("evm: getAccountLiquidity: error code %s", code)
	}
	return shortfall, nil
}

// HealthFactor reads getUserAccountData and returns the 1e18-scaled health
// factor.
func (c *Client) HealthFactor(ctx context.Context, pool, user common.Address) (*big.Int, error) {
	values, err := c.call(ctx, lendingPoolABI, pool, "getUserAccountData", user)
	if err != nil {
		return nil, err
	}
	hf, ok := values[5].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: getUserAccountData: unexpected result type %T", values[5])
	}
	return hf, nil
}

// FlashLoanPremiumBps reads the pool's total flash-loan premium.
func (c *Client) FlashLoanPremiumBps(ctx context.Context, pool common.Address) (uint64, error) {
	v, err := c.callUint(ctx, lendingPoolABI, pool, "FLASHLOAN_PREMIUM_TOTAL")
	if err != nil {
		return 0, err
	}
	return v.Uint64(), nil
}
