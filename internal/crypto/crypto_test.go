package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	otherKey    = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var custody = common.HexToAddress("0x00000000000000000000000000000000000000c0")

func withdrawal() domain.Request {
	return domain.Request{
		ID:     "req-1",
		Source: "api",
		Op:     domain.OpWithdraw,
		Caller: common.HexToAddress("0x00000000000000000000000000000000000000ee"),
		Withdrawal: &domain.Withdrawal{
			Asset:  common.HexToAddress("0x00000000000000000000000000000000000000a1"),
			Amount: big.NewInt(1_000_000),
			To:     common.HexToAddress("0x00000000000000000000000000000000000000d1"),
		},
	}
}

func newSigner(t *testing.T, hexKey string) *Signer {
	t.Helper()
	pk, err := ParseKey(hexKey)
	require.NoError(t, err)
	return NewSigner(pk, 1, custody)
}

func TestSealOpenRecoversSigner(t *testing.T) {
	s := newSigner(t, "0x"+testKey)
	require.Equal(t, testAddress, s.Address().Hex())

	expires := time.Unix(1_900_000_000, 0)
	env, err := s.Seal(withdrawal(), expires)
	require.NoError(t, err)

	req, err := NewVerifier(1, custody).Open(env)
	require.NoError(t, err)
	require.Equal(t, s.Address(), req.Caller, "claimed caller is replaced by the signer")
	require.Equal(t, expires.UTC(), req.ExpiresAt)
	require.Equal(t, "req-1", req.ID)
	require.Equal(t, "1000000", req.Withdrawal.Amount.String())
}

func TestOpenRejectsTampering(t *testing.T) {
	s := newSigner(t, testKey)
	env, err := s.Seal(withdrawal(), time.Unix(1_900_000_000, 0))
	require.NoError(t, err)

	v := NewVerifier(1, custody)

	bumped := env
	bumped.ExpiresAt++
	req, err := v.Open(bumped)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), req.Caller, "a changed expiry recovers a different key")

	other := NewVerifier(5, custody)
	req, err = other.Open(env)
	require.NoError(t, err)
	require.NotEqual(t, s.Address(), req.Caller, "signatures are bound to the chain id")

	short := env
	short.Signature = "0x1234"
	_, err = v.Open(short)
	require.ErrorIs(t, err, ErrBadSignature)

	garbled := env
	garbled.Signature = "zz"
	_, err = v.Open(garbled)
	require.ErrorIs(t, err, domain.ErrBadSignature)

	_, err = v.Open(Envelope{})
	require.Error(t, err)
}

func TestOpenJSON(t *testing.T) {
	s := newSigner(t, otherKey)
	body := []byte(`{"id":"req-2","op":"withdraw"}`)
	sig, err := s.SignRequest(body, 1_900_000_000)
	require.NoError(t, err)

	raw := []byte(`{"body":{"id":"req-2","op":"withdraw"},"expires_at":1900000000,"signature":"` + sig + `"}`)
	req, err := NewVerifier(1, custody).OpenJSON(raw)
	require.NoError(t, err)
	require.Equal(t, s.Address(), req.Caller)
	require.Equal(t, domain.OpWithdraw, req.Op)

	_, err = NewVerifier(1, custody).OpenJSON([]byte("{"))
	require.Error(t, err)
}

func TestEncryptDecryptKey(t *testing.T) {
	pk, err := ParseKey("0x" + testKey)
	require.NoError(t, err)
	blob, err := EncryptKey(pk, "hunter2", 1_000)
	require.NoError(t, err)
	require.Contains(t, string(blob), testAddress)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	require.True(t, pk.Equal(got))

	_, err = DecryptKey(blob, "wrong")
	require.ErrorContains(t, err, "decryption failed")

	// The address is authenticated: pointing the file at another operator
	// breaks it.
	edited := []byte(strings.Replace(string(blob), testAddress, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", 1))
	_, err = DecryptKey(edited, "hunter2")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	got, err = LoadKey(KeyConfig{
		EncryptedKeyPath: path,
		KeyPassword:      "hunter2",
		Operator:         common.HexToAddress(testAddress),
	})
	require.NoError(t, err)
	require.True(t, pk.Equal(got))
}

func TestLoadKeySources(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
	require.NoError(t, err)
	require.Equal(t, testAddress, NewSigner(got, 1, custody).Address().Hex())

	_, err = LoadKey(KeyConfig{RawPrivateKey: otherKey, Operator: common.HexToAddress(testAddress)})
	require.ErrorIs(t, err, ErrOperatorMismatch)

	_, err = LoadKey(KeyConfig{RawPrivateKey: "not-hex"})
	require.Error(t, err)

	_, err = LoadKey(KeyConfig{})
	require.Error(t, err)

	pk, err := ParseKey(testKey)
	require.NoError(t, err)
	_, err = EncryptKey(pk, "", 0)
	require.Error(t, err)

	_, err = DecryptKey([]byte(`{"version":2}`), "pw")
	require.ErrorContains(t, err, "unsupported key file version")
}
