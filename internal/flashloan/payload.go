// Package flashloan borrows working capital from a flash-loan facility,
// carries the maneuver description through the facility as an ABI payload,
// and makes sure the loan can be repaid before the callback returns.
package flashloan

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// payloadArgs is the ABI layout of the callback payload: (uint8 tag, bytes params).
var payloadArgs = func() abi.Arguments {
	tagType, err := abi.NewType("uint8", "", nil)
	if err != nil {
		panic(err)
	}
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "tag", Type: tagType}, {Name: "params", Type: bytesType}}
}()

// EncodePayload packs a strategy tag and its parameters.
func EncodePayload(tag domain.StrategyTag, params domain.ManeuverParams) ([]byte, error) {
	if !tag.Valid() {
		return nil, domain.Failf(domain.ErrUnknownStrategy, "payload", "tag %d", uint8(tag))
	}
	raw, err := sonnet.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("flashloan: encode params: %w", err)
	}
	data, err := payloadArgs.Pack(uint8(tag), raw)
	if err != nil {
		return nil, fmt.Errorf("flashloan: pack payload: %w", err)
	}
	return data, nil
}

// DecodePayload unpacks a payload. Tags outside the known set fail with
// UnknownStrategy before the parameters are looked at.
func DecodePayload(data []byte) (domain.StrategyTag, domain.ManeuverParams, error) {
	vals, err := payloadArgs.Unpack(data)
	if err != nil {
		return 0, domain.ManeuverParams{}, domain.Fail(domain.ErrUnknownStrategy, "payload", fmt.Errorf("unpack: %w", err))
	}
	if len(vals) != 2 {
		return 0, domain.ManeuverParams{}, domain.Failf(domain.ErrUnknownStrategy, "payload", "want 2 fields, got %d", len(vals))
	}
	rawTag, ok := vals[0].(uint8)
	if !ok {
		return 0, domain.ManeuverParams{}, domain.Failf(domain.ErrUnknownStrategy, "payload", "tag has type %T", vals[0])
	}
	tag := domain.StrategyTag(rawTag)
	if !tag.Valid() {
		return 0, domain.ManeuverParams{}, domain.Failf(domain.ErrUnknownStrategy, "payload", "tag %d", rawTag)
	}
	raw, ok := vals[1].([]byte)
	if !ok {
		return 0, domain.ManeuverParams{}, domain.Failf(domain.ErrInvalidManeuver, "payload", "params have type %T", vals[1])
	}
	var params domain.ManeuverParams
	if err := sonnet.Unmarshal(raw, &params); err != nil {
		return 0, domain.ManeuverParams{}, domain.Fail(domain.ErrInvalidManeuver, "payload", fmt.Errorf("decode params: %w", err))
	}
	return tag, params, nil
}
