package source

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var _ types.TransactionSender = (*RPCTxSender)(nil)

// RPCTxSender completes, signs and broadcasts page-submitted transactions
// through the active chain's endpoint.
type RPCTxSender struct {
	networks types.NetworkSource
	signer   *KeystoreSigner
}

func NewRPCTxSender(networks types.NetworkSource, signer *KeystoreSigner) *RPCTxSender {
	return &RPCTxSender{networks: networks, signer: signer}
}

func (s *RPCTxSender) SendTransaction(ctx context.Context, origin string, conn types.ConnectionID, args *apitypes.SendTxArgs) (common.Hash, error) {
	chainID := s.networks.ChainID()
	handle, err := s.networks.RPCHandle(chainID)
	if err != nil {
		return common.Hash{}, types.ErrChainDisconnected
	}

	if err := s.fillDefaults(ctx, handle, chainID, args); err != nil {
		return common.Hash{}, err
	}

	tx, err := args.ToTransaction()
	if err != nil {
		return common.Hash{}, types.ErrInvalidParams.WithDetail("%v", err)
	}
	signed, err := s.signer.ks.SignTx(accounts.Account{Address: args.From.Address()}, tx, new(big.Int).SetUint64(chainID))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "encode transaction")
	}

	var hash common.Hash
	if err := handle.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Encode(raw)); err != nil {
		return common.Hash{}, types.ErrTransactionRejected.WithDetail("%v", err)
	}
	log.Infow("transaction broadcast", "hash", hash, "origin", origin, "chain", chainID)
	return hash, nil
}

// fillDefaults completes the fields pages routinely omit: chain id,
// nonce, gas limit and fee caps.
func (s *RPCTxSender) fillDefaults(ctx context.Context, handle types.RPCHandle, chainID uint64, args *apitypes.SendTxArgs) error {
	if args.ChainID == nil {
		args.ChainID = (*hexutil.Big)(new(big.Int).SetUint64(chainID))
	}
	if args.Nonce == 0 {
		var nonce hexutil.Uint64
		if err := handle.CallContext(ctx, &nonce, "eth_getTransactionCount", args.From.Address(), "pending"); err != nil {
			return errors.Wrap(err, "fetch nonce")
		}
		args.Nonce = nonce
	}
	if args.Gas == 0 {
		var gas hexutil.Uint64
		if err := handle.CallContext(ctx, &gas, "eth_estimateGas", args); err != nil {
			return types.ErrInvalidParams.WithDetail("gas estimation failed: %v", err)
		}
		args.Gas = gas
	}
	if args.GasPrice == nil && args.MaxFeePerGas == nil {
		var gasPrice hexutil.Big
		if err := handle.CallContext(ctx, &gasPrice, "eth_gasPrice"); err != nil {
			return errors.Wrap(err, "fetch gas price")
		}
		args.GasPrice = &gasPrice
	}
	return nil
}
