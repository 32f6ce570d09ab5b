package types

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
)

// RPCHandle is a request-capable handle onto one chain's RPC endpoint.
// Mirrors the ethclient rpc.Client call shape.
type RPCHandle interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// NetworkSource exposes the wallet's network state. Transport and
// persistence live behind it; the mediator only reads ids and flips the
// active chain.
type NetworkSource interface {
	// ChainID is the active chain id.
	ChainID() uint64
	// NetworkVersion is the decimal display version of the active chain.
	NetworkVersion() string
	// KnownChain reports whether the wallet already has the chain enabled.
	KnownChain(chainID uint64) bool
	// RPCHandle returns a request handle for an enabled chain.
	RPCHandle(chainID uint64) (RPCHandle, error)
	// ProbeChainID dials a candidate endpoint and returns the chain id it
	// reports.
	ProbeChainID(ctx context.Context, rpcURL string) (uint64, error)
	// CommitChain persists a newly accepted chain.
	CommitChain(ctx context.Context, params *AddChainParams) error
	// SwitchChain makes chainID the active chain.
	SwitchChain(ctx context.Context, chainID uint64) error
	// ChainChanged emits the new chain id after every switch, including
	// switches not initiated through the mediator.
	ChainChanged() <-chan uint64
}

// BlockTickSource emits per-chain head observations at a configurable
// interval.
type BlockTickSource interface {
	Ticks() <-chan BlockTick
}

// Keyring is the signing collaborator. Implementations may serialize
// hardware access internally; every call must be treated as potentially
// blocking.
type Keyring interface {
	SignMessage(ctx context.Context, addr common.Address, data []byte) ([]byte, error)
	SignPersonal(ctx context.Context, addr common.Address, data []byte) ([]byte, error)
	SignTypedData(ctx context.Context, addr common.Address, typedData apitypes.TypedData) ([]byte, error)
	// RequiresExternalSign reports whether addr signs through an
	// out-of-band (QR) device.
	RequiresExternalSign(addr common.Address) bool
	// ExternalSignEvents relays QR sign payloads for the UI. May be nil
	// for software-only keyrings.
	ExternalSignEvents() <-chan *ExternalSignEvent
}

// TransactionSender is the transaction-ordering collaborator. The mediator
// only tags submissions with their origin and connection.
type TransactionSender interface {
	SendTransaction(ctx context.Context, origin string, conn ConnectionID, tx *apitypes.SendTxArgs) (common.Hash, error)
}

// GasEstimator is the internal estimation collaborator tried before
// falling back to the raw RPC call.
type GasEstimator interface {
	EstimateGas(ctx context.Context, call interface{}) (uint64, error)
}

// TokenResolver resolves and commits custom-token metadata.
type TokenResolver interface {
	// HasToken reports whether account already watches the token.
	HasToken(ctx context.Context, account common.Address, token common.Address) (bool, error)
	CommitToken(ctx context.Context, account common.Address, token Token) error
}

// UnlockSource is the wallet lock state.
type UnlockSource interface {
	IsUnlocked() bool
	// Changes emits the new state on every lock/unlock transition.
	Changes() <-chan bool
}

// WindowOpener opens, focuses and closes the confirmation UI. Consumed,
// not implemented, by this core.
type WindowOpener interface {
	EnsureOpen(ctx context.Context) error
	CloseAll(ctx context.Context) error
	FocusTab(ctx context.Context, tabID int64, windowID int64) error
}

// Header is the minimal newHeads payload fetched per delivered block.
type Header = types.Header

// RequestDecider is what the confirmation UI calls back into: the resolve
// half of the pending request ledger.
type RequestDecider interface {
	ApproveRequest(ctx context.Context, id uuid.UUID, confirmOptions json.RawMessage) error
	RejectRequest(ctx context.Context, id uuid.UUID) error
}
