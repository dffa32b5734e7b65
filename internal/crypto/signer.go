package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/sugawarayuuta/sonnet"

	"github.com/alanyoungcy/flashbot/internal/domain"
)

// --------------------------------------------------------------------------
// EIP-712 type hashes (pre-computed keccak256 of the canonical type strings).
// --------------------------------------------------------------------------

var (
	// EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"),
	)

	// OperatorRequest(bytes32 bodyHash,uint256 expiresAt)
	operatorRequestTypeHash = ethcrypto.Keccak256(
		[]byte("OperatorRequest(bytes32 bodyHash,uint256 expiresAt)"),
	)
)

const (
	domainName    = "Flashbot"
	domainVersion = "1"
)

var ErrBadSignature = domain.ErrBadSignature

// Envelope is a signed operator request as it travels over HTTP or the
// request stream. Body is the JSON of a domain.Request; any caller field
// inside it is ignored in favour of the recovered signer.
type Envelope struct {
	Body      json.RawMessage `json:"body"`
	ExpiresAt int64           `json:"expires_at"` // unix seconds
	Signature string          `json:"signature"`
}

// Signer signs operator requests for one engine instance.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer for pk. The domain binds signatures to chainID
// and the custody address.
func NewSigner(pk *ecdsa.PrivateKey, chainID int64, custody common.Address) *Signer {
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID, custody),
	}
}

// Address returns the Ethereum address derived from the signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignRequest returns a hex-encoded 65-byte signature over body and expiresAt.
func (s *Signer) SignRequest(body []byte, expiresAt int64) (string, error) {
	digest := eip712Hash(s.domainSep, requestStructHash(body, expiresAt))
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Seal marshals req and signs it.
func (s *Signer) Seal(req domain.Request, expiresAt time.Time) (Envelope, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Envelope{}, fmt.Errorf("crypto/signer: marshal request: %w", err)
	}
	exp := expiresAt.Unix()
	sig, err := s.SignRequest(body, exp)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Body: body, ExpiresAt: exp, Signature: sig}, nil
}

// Verifier recovers the signer of operator requests.
type Verifier struct {
	domainSep []byte
}

// NewVerifier binds verification to the same domain as NewSigner.
func NewVerifier(chainID int64, custody common.Address) *Verifier {
	return &Verifier{domainSep: domainSeparator(chainID, custody)}
}

// Recover returns the address that produced sigHex over body and expiresAt.
func (v *Verifier) Recover(body []byte, expiresAt int64, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: length %d", ErrBadSignature, len(sig))
	}
	sig = append([]byte(nil), sig...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	digest := eip712Hash(v.domainSep, requestStructHash(body, expiresAt))
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// Open verifies env and decodes its request. Caller is set to the recovered
// signer and ExpiresAt to the signed expiry.
func (v *Verifier) Open(env Envelope) (domain.Request, error) {
	if len(env.Body) == 0 {
		return domain.Request{}, errors.New("crypto/signer: empty body")
	}
	caller, err := v.Recover(env.Body, env.ExpiresAt, env.Signature)
	if err != nil {
		return domain.Request{}, err
	}
	var req domain.Request
	if err := sonnet.Unmarshal(env.Body, &req); err != nil {
		return domain.Request{}, fmt.Errorf("crypto/signer: decode request: %w", err)
	}
	req.Caller = caller
	req.ExpiresAt = time.Unix(env.ExpiresAt, 0).UTC()
	return req, nil
}

// OpenJSON decodes an Envelope from data and opens it.
func (v *Verifier) OpenJSON(data []byte) (domain.Request, error) {
	var env Envelope
	if err := sonnet.Unmarshal(data, &env); err != nil {
		return domain.Request{}, fmt.Errorf("crypto/signer: decode envelope: %w", err)
	}
	return v.Open(env)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId, verifyingContract)).
func domainSeparator(chainID int64, custody common.Address) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			bigIntTo32Bytes(big.NewInt(chainID)),
			common.LeftPadBytes(custody.Bytes(), 32),
		),
	)
}

func requestStructHash(body []byte, expiresAt int64) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			operatorRequestTypeHash,
			ethcrypto.Keccak256(body),
			bigIntTo32Bytes(big.NewInt(expiresAt)),
		),
	)
}

// eip712Hash computes the final EIP-712 digest:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			[]byte{0x19, 0x01},
			domainSep,
			structHash,
		),
	)
}

// bigIntTo32Bytes returns a 32-byte big-endian representation of n.
func bigIntTo32Bytes(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) >= 32 {
		return b[:32]
	}
	padded := make([]byte, 32)
	copy(padded[32-len(b):], b)
	return padded
}

// concatBytes concatenates multiple byte slices into one.
func concatBytes(slices ...[]byte) []byte {
	total := 0
	for _, s := range slices {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range slices {
		buf = append(buf, s...)
	}
	return buf
}
