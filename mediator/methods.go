package mediator

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/ipfs-force-community/sophon-provider/subscription"
	"github.com/ipfs-force-community/sophon-provider/types"
)

func (m *Mediator) newHandlers() map[string]methodHandler {
	return map[string]methodHandler{
		"eth_chainId":  m.ethChainID,
		"net_version":  m.netVersion,
		"eth_accounts": m.ethAccounts,
		"eth_getCode":  m.forward,
		"eth_coinbase": m.ethCoinbase,

		"eth_requestAccounts":       m.ethRequestAccounts,
		"wallet_requestPermissions": m.walletRequestPermissions,
		"wallet_getPermissions":     m.walletGetPermissions,

		"eth_sendTransaction": m.ethSendTransaction,

		"eth_sign":             m.handleSign,
		"personal_sign":        m.handleSign,
		"eth_signTypedData":    m.handleSign,
		"eth_signTypedData_v1": m.handleSign,
		"eth_signTypedData_v3": m.handleSign,
		"eth_signTypedData_v4": m.handleSign,

		"wallet_addEthereumChain":    m.walletAddEthereumChain,
		"wallet_switchEthereumChain": m.walletSwitchEthereumChain,
		"wallet_watchAsset":          m.walletWatchAsset,

		"eth_subscribe":   m.ethSubscribe,
		"eth_unsubscribe": m.ethUnsubscribe,

		"web3_sha3":          m.web3Sha3,
		"personal_ecRecover": m.personalEcRecover,
		"eth_estimateGas":    m.ethEstimateGas,
	}
}

// newPassthroughSet is the allow list of read methods forwarded verbatim
// to the RPC transport. Anything outside the table and this set fails
// with UnsupportedMethod.
func newPassthroughSet() map[string]struct{} {
	methods := []string{
		"eth_blockNumber",
		"eth_call",
		"eth_gasPrice",
		"eth_feeHistory",
		"eth_maxPriorityFeePerGas",
		"eth_getBalance",
		"eth_getStorageAt",
		"eth_getTransactionCount",
		"eth_getTransactionByHash",
		"eth_getTransactionReceipt",
		"eth_getBlockByNumber",
		"eth_getBlockByHash",
		"eth_getBlockTransactionCountByNumber",
		"eth_getLogs",
		"eth_sendRawTransaction",
	}
	set := make(map[string]struct{}, len(methods))
	for _, method := range methods {
		set[method] = struct{}{}
	}
	return set
}

func (m *Mediator) ethChainID(ctx context.Context, c *call) (interface{}, error) {
	return hexutil.Uint64(m.deps.Networks.ChainID()), nil
}

func (m *Mediator) netVersion(ctx context.Context, c *call) (interface{}, error) {
	return m.deps.Networks.NetworkVersion(), nil
}

// ethAccounts answers from the permission store and, as a side effect of
// being read, re-emits accountsChanged to the calling page so its observed
// account state stays fresh without a separate poll.
func (m *Mediator) ethAccounts(ctx context.Context, c *call) (interface{}, error) {
	granted := m.deps.Permissions.GetAccounts(c.inst.Origin)
	m.deps.Registry.Notify(c.conn, types.AccountsChangedNotification(granted))
	return granted, nil
}

func (m *Mediator) ethCoinbase(ctx context.Context, c *call) (interface{}, error) {
	granted := m.deps.Permissions.GetAccounts(c.inst.Origin)
	if len(granted) == 0 {
		return nil, nil
	}
	return granted[0], nil
}

func (m *Mediator) ethSendTransaction(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var args apitypes.SendTxArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed transaction: %v", err)
	}
	if !m.isAuthorized(c.inst.Origin, args.From.Address()) {
		return nil, types.ErrUnauthorized
	}
	m.noteRequestSource(c.inst)
	hash, err := m.deps.TxSender.SendTransaction(ctx, c.inst.Origin, c.conn, &args)
	if err != nil {
		return nil, err
	}
	return hash, nil
}

func (m *Mediator) ethSubscribe(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var kindName string
	if err := json.Unmarshal(raw, &kindName); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("subscription type is not a string")
	}
	kind, err := subscription.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	var filter subscription.LogFilter
	if kind == subscription.KindLogs && len(c.params) > 1 {
		if err := json.Unmarshal(c.params[1], &filter); err != nil {
			return nil, types.ErrInvalidParams.WithDetail("malformed log filter: %v", err)
		}
	}
	return m.subs.Subscribe(c.conn, kind, filter), nil
}

func (m *Mediator) ethUnsubscribe(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var id string
	if err := json.Unmarshal(raw, &id); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("subscription id is not a string")
	}
	return m.subs.Unsubscribe(c.conn, id), nil
}

func (m *Mediator) web3Sha3(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("data parameter is not a string")
	}
	data, err := hexutil.Decode(s)
	if err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed hex data: %v", err)
	}
	return hexutil.Encode(crypto.Keccak256(data)), nil
}

// personalEcRecover recovers the address that produced a personal_sign
// signature over the given message.
func (m *Mediator) personalEcRecover(ctx context.Context, c *call) (interface{}, error) {
	if len(c.params) < 2 {
		return nil, types.ErrInvalidParams.WithDetail("personal_ecRecover expects [data, signature]")
	}
	var dataHex, sigHex string
	if err := json.Unmarshal(c.params[0], &dataHex); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("data parameter is not a string")
	}
	if err := json.Unmarshal(c.params[1], &sigHex); err != nil {
		return nil, types.ErrInvalidParams.WithDetail("signature parameter is not a string")
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, types.ErrInvalidParams.WithDetail("malformed hex data: %v", err)
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return nil, types.ErrInvalidParams.WithDetail("signature must be %d bytes", crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig = append([]byte(nil), sig...)
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(data), sig)
	if err != nil {
		return nil, types.ErrInvalidParams.WithDetail("signature recovery failed: %v", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// ethEstimateGas asks the internal estimator first and falls back to
// forwarding the raw call; the internal failure never reaches the caller.
func (m *Mediator) ethEstimateGas(ctx context.Context, c *call) (interface{}, error) {
	raw, err := c.param(0)
	if err != nil {
		return nil, err
	}
	if m.deps.Gas != nil {
		var callObj map[string]interface{}
		if err := json.Unmarshal(raw, &callObj); err == nil {
			if gas, err := m.deps.Gas.EstimateGas(ctx, callObj); err == nil {
				return hexutil.Uint64(gas), nil
			} else {
				log.Debugf("internal gas estimation failed, forwarding: %v", err)
			}
		}
	}
	return m.forward(ctx, c)
}

func (m *Mediator) isAuthorized(origin string, addr common.Address) bool {
	for _, granted := range m.deps.Permissions.GetAccounts(origin) {
		if granted == addr {
			return true
		}
	}
	return false
}

// noteRequestSource remembers the tab behind the most recent user-facing
// request so the window watcher can refocus it later.
func (m *Mediator) noteRequestSource(inst *types.ProviderInstance) {
	if inst.Kind == types.ConnPage {
		m.watcher.noteSource(inst.TabID, inst.WindowID)
	}
}
