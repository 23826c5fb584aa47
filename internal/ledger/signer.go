package ledger

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

// Signer authorizes transactions on behalf of one submitter.
type Signer interface {
	Address() common.Address
	SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// SubmitterOf returns the submitter identity a signer acts for.
func SubmitterOf(s Signer) domain.Submitter {
	return domain.NewSubmitter(s.Address().Hex())
}

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeySigner parses a hex private key, with or without the 0x prefix.
func NewKeySigner(hexKey string) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return NewKeySignerFromKey(key), nil
}

// NewKeySignerFromKey wraps an existing key.
func NewKeySignerFromKey(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// GenerateKeySigner creates a signer with a fresh random key.
func GenerateKeySigner() (*KeySigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return NewKeySignerFromKey(key), nil
}

// Address implements Signer.
func (s *KeySigner) Address() common.Address {
	return s.address
}

// SignTx implements Signer. A cancelled context counts as a rejection.
func (s *KeySigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(ErrSigningRejected, err.Error())
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "sign transaction")
	}
	return signed, nil
}

// SignRequest describes a transaction awaiting approval.
type SignRequest struct {
	From   common.Address
	To     common.Address
	Method string
	Args   []any
}

// String renders the request for an interactive prompt.
func (r SignRequest) String() string {
	parts := make([]string, 0, len(r.Args))
	for _, a := range r.Args {
		parts = append(parts, fmt.Sprint(a))
	}
	return fmt.Sprintf("%s(%s) from %s to %s", r.Method, strings.Join(parts, ", "), r.From.Hex(), r.To.Hex())
}

// ApproveFunc decides whether a request may be signed.
type ApproveFunc func(ctx context.Context, req SignRequest) (bool, error)

// PromptSigner asks for approval before delegating to another signer.
type PromptSigner struct {
	next    Signer
	approve ApproveFunc
}

// NewPromptSigner wraps next with an approval step.
func NewPromptSigner(next Signer, approve ApproveFunc) *PromptSigner {
	return &PromptSigner{next: next, approve: approve}
}

// Address implements Signer.
func (s *PromptSigner) Address() common.Address {
	return s.next.Address()
}

// SignTx implements Signer. A declined request yields ErrSigningRejected.
func (s *PromptSigner) SignTx(ctx context.Context, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	req := describe(s.next.Address(), tx)
	ok, err := s.approve(ctx, req)
	if err != nil {
		return nil, errors.Wrap(ErrSigningRejected, err.Error())
	}
	if !ok {
		return nil, ErrSigningRejected
	}
	return s.next.SignTx(ctx, tx, chainID)
}

func describe(from common.Address, tx *types.Transaction) SignRequest {
	req := SignRequest{From: from, Method: "unknown"}
	if tx.To() != nil {
		req.To = *tx.To()
	}
	data := tx.Data()
	parsed, err := ABI()
	if err != nil || len(data) < 4 {
		return req
	}
	method, err := parsed.MethodById(data[:4])
	if err != nil {
		return req
	}
	req.Method = method.Name
	if args, err := method.Inputs.Unpack(data[4:]); err == nil {
		req.Args = args
	}
	return req
}

// Keyring holds the signers this process may use, keyed by submitter.
type Keyring struct {
	mu      sync.RWMutex
	signers map[domain.Submitter]Signer
}

// NewKeyring builds a keyring from signers.
func NewKeyring(signers ...Signer) *Keyring {
	k := &Keyring{signers: make(map[domain.Submitter]Signer, len(signers))}
	for _, s := range signers {
		k.Add(s)
	}
	return k
}

// Add registers s, replacing any signer for the same address.
func (k *Keyring) Add(s Signer) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.signers[SubmitterOf(s)] = s
}

// Signer returns the signer for submitter, if held.
func (k *Keyring) Signer(submitter domain.Submitter) (Signer, bool) {
	if k == nil {
		return nil, false
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.signers[submitter]
	return s, ok
}

// Submitters lists the identities held.
func (k *Keyring) Submitters() []domain.Submitter {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]domain.Submitter, 0, len(k.signers))
	for s := range k.signers {
		out = append(out, s)
	}
	return out
}

// LoadKeyring parses a comma separated list of hex private keys.
func LoadKeyring(hexKeys string) (*Keyring, error) {
	k := NewKeyring()
	for i, raw := range strings.Split(hexKeys, ",") {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		s, err := NewKeySigner(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "key %d", i)
		}
		k.Add(s)
	}
	return k, nil
}
