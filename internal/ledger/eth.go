package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// gasHeadroomPercent scales estimates to absorb state drift between estimate and inclusion.
const gasHeadroomPercent = 120

// EthGateway talks to a deployed MovieReviews contract over JSON-RPC.
type EthGateway struct {
	client   *ethclient.Client
	abi      abi.ABI
	address  common.Address
	chainID  *big.Int
	logStart uint64
	log      logrus.FieldLogger
}

// DialEth connects to rpcURL and checks the endpoint serves chainID.
func DialEth(ctx context.Context, rpcURL string, contract common.Address, chainID int64, logger logrus.FieldLogger) (*EthGateway, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	parsed, err := ABI()
	if err != nil {
		return nil, errors.Wrap(err, "parse contract abi")
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "dial %s: %v", rpcURL, err)
	}
	remote, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, errors.Wrapf(ErrUnavailable, "chain id: %v", err)
	}
	if remote.Int64() != chainID {
		client.Close()
		return nil, errors.Errorf("ledger: endpoint serves chain %s, want %d", remote, chainID)
	}

	logger = logger.WithField("component", "ledger")
	logger.WithFields(logrus.Fields{
		"contract": contract.Hex(),
		"chain_id": chainID,
	}).Info("ledger connection established")

	return &EthGateway{
		client:  client,
		abi:     parsed,
		address: contract,
		chainID: big.NewInt(chainID),
		log:     logger,
	}, nil
}

// SetLogStart sets the first block scanned by Events, normally the deployment block.
func (g *EthGateway) SetLogStart(block uint64) {
	g.logStart = block
}

// Close releases the RPC connection.
func (g *EthGateway) Close() {
	if g == nil || g.client == nil {
		return
	}
	g.client.Close()
}

// Call implements Gateway.
func (g *EthGateway) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.address, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "call %s: %v", method, err)
	}
	out, err := g.abi.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedResponse, "unpack %s: %v", method, err)
	}
	return out, nil
}

// Events implements Gateway with eth_getLogs over [logStart, latest]. Logs dropped by a
// reorg are skipped.
func (g *EthGateway) Events(ctx context.Context, event string, query ...[]any) ([]Event, error) {
	ev, ok := g.abi.Events[event]
	if !ok {
		return nil, errors.Errorf("ledger: unknown event %q", event)
	}
	topics, err := abi.MakeTopics(query...)
	if err != nil {
		return nil, errors.Wrapf(err, "topics %s", event)
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}

	logs, err := g.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(g.logStart),
		Addresses: []common.Address{g.address},
		Topics:    append([][]common.Hash{{ev.ID}}, topics...),
	})
	if err != nil {
		return nil, errors.Wrapf(ErrUnavailable, "logs %s: %v", event, err)
	}

	out := make([]Event, 0, len(logs))
	for _, lg := range logs {
		if lg.Removed {
			continue
		}
		if len(lg.Topics) != len(indexed)+1 {
			return nil, errors.Wrapf(ErrMalformedResponse, "%s log has %d topics", event, len(lg.Topics))
		}
		fields := make(map[string]any, len(ev.Inputs))
		if err := g.abi.UnpackIntoMap(fields, event, lg.Data); err != nil {
			return nil, errors.Wrapf(ErrMalformedResponse, "unpack %s: %v", event, err)
		}
		if err := abi.ParseTopicsIntoMap(fields, indexed, lg.Topics[1:]); err != nil {
			return nil, errors.Wrapf(ErrMalformedResponse, "topics %s: %v", event, err)
		}
		out = append(out, Event{Name: event, Fields: fields, Block: lg.BlockNumber, Index: lg.Index})
	}
	return out, nil
}

// Send implements Gateway. Gas is estimated against pending state; an estimate that
// reverts is reported as ErrReverted before anything is signed.
func (g *EthGateway) Send(ctx context.Context, signer Signer, method string, args ...any) (Handle, error) {
	data, err := g.abi.Pack(method, args...)
	if err != nil {
		return Handle{}, errors.Wrapf(err, "pack %s", method)
	}
	from := signer.Address()

	nonce, err := g.client.PendingNonceAt(ctx, from)
	if err != nil {
		return Handle{}, errors.Wrapf(ErrUnavailable, "nonce: %v", err)
	}
	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return Handle{}, errors.Wrapf(ErrUnavailable, "gas price: %v", err)
	}
	gas, err := g.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &g.address, Data: data})
	if err != nil {
		return Handle{}, errors.Wrapf(ErrReverted, "estimate %s: %v", method, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &g.address,
		Gas:      gas * gasHeadroomPercent / 100,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := signer.SignTx(ctx, tx, g.chainID)
	if err != nil {
		return Handle{}, err
	}
	if err := g.client.SendTransaction(ctx, signed); err != nil {
		return Handle{}, errors.Wrapf(ErrUnavailable, "send %s: %v", method, err)
	}

	g.log.WithFields(logrus.Fields{
		"method": method,
		"from":   from.Hex(),
		"tx":     signed.Hash().Hex(),
	}).Info("transaction submitted")
	return Handle{Hash: signed.Hash()}, nil
}

// Status implements Gateway.
func (g *EthGateway) Status(ctx context.Context, h Handle) (TxStatus, error) {
	receipt, err := g.client.TransactionReceipt(ctx, h.Hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return TxPending, nil
		}
		return TxPending, errors.Wrapf(ErrUnavailable, "receipt %s: %v", h, err)
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		return TxIncluded, nil
	}
	return TxFailed, nil
}
