package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/reel-ledger/internal/domain"
)

const (
	devKey0  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddr0 = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	devKey1  = "0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	devAddr1 = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
)

func rateTx(t *testing.T) *types.Transaction {
	t.Helper()
	data, err := MustABI().Pack(MethodAddRating, big.NewInt(550), uint8(8))
	require.NoError(t, err)
	to := common.HexToAddress("0x000000000000000000000000000000000000bEEF")
	return types.NewTx(&types.LegacyTx{Nonce: 0, To: &to, Gas: 100000, GasPrice: big.NewInt(1), Data: data})
}

func TestKeySignerSigns(t *testing.T) {
	s, err := NewKeySigner(devKey0)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(devAddr0), s.Address())
	assert.Equal(t, domain.NewSubmitter(devAddr0), SubmitterOf(s))

	chainID := big.NewInt(11142220)
	signed, err := s.SignTx(context.Background(), rateTx(t), chainID)
	require.NoError(t, err)

	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), sender)
}

func TestKeySignerCancelledContext(t *testing.T) {
	s, err := NewKeySigner(devKey0)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = s.SignTx(ctx, rateTx(t), big.NewInt(1))
	assert.ErrorIs(t, err, ErrSigningRejected)
}

func TestNewKeySignerInvalid(t *testing.T) {
	_, err := NewKeySigner("not-a-key")
	assert.Error(t, err)
}

func TestPromptSigner(t *testing.T) {
	inner, err := NewKeySigner(devKey0)
	require.NoError(t, err)

	var seen SignRequest
	approve := true
	s := NewPromptSigner(inner, func(ctx context.Context, req SignRequest) (bool, error) {
		seen = req
		return approve, nil
	})
	assert.Equal(t, inner.Address(), s.Address())

	_, err = s.SignTx(context.Background(), rateTx(t), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, MethodAddRating, seen.Method)
	require.Len(t, seen.Args, 2)
	assert.Equal(t, uint8(8), seen.Args[1])
	assert.Contains(t, seen.String(), "addRating(550, 8)")

	approve = false
	_, err = s.SignTx(context.Background(), rateTx(t), big.NewInt(1))
	assert.ErrorIs(t, err, ErrSigningRejected)

	failing := NewPromptSigner(inner, func(ctx context.Context, req SignRequest) (bool, error) {
		return false, errors.New("terminal closed")
	})
	_, err = failing.SignTx(context.Background(), rateTx(t), big.NewInt(1))
	assert.ErrorIs(t, err, ErrSigningRejected)
}

func TestLoadKeyring(t *testing.T) {
	k, err := LoadKeyring(devKey0 + ", ," + devKey1)
	require.NoError(t, err)
	assert.Len(t, k.Submitters(), 2)

	s, ok := k.Signer(domain.NewSubmitter(devAddr1))
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(devAddr1), s.Address())

	_, ok = k.Signer("0x0000000000000000000000000000000000000001")
	assert.False(t, ok)

	var nilRing *Keyring
	_, ok = nilRing.Signer(domain.NewSubmitter(devAddr0))
	assert.False(t, ok)

	_, err = LoadKeyring("zz")
	assert.Error(t, err)
}
