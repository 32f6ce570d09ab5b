package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/types"
)

// ConnectionInfo is the admin view of one registered provider instance.
type ConnectionInfo struct {
	ID         types.ConnectionID `json:"id"`
	Kind       string             `json:"kind"`
	Origin     string             `json:"origin"`
	TabID      int64              `json:"tabId"`
	Site       types.SiteMetadata `json:"site"`
	CreateTime time.Time          `json:"createTime"`
}

// RequestInfo is the admin view of one ledger entry.
type RequestInfo struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Status     string          `json:"status"`
	Origin     string          `json:"origin"`
	CreateTime time.Time       `json:"createTime"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// WalletAdmin is the key-custody surface an implementation may expose.
// Nil when the daemon runs without a local keystore.
type WalletAdmin interface {
	Accounts() []common.Address
	NewAccount(passphrase string) (common.Address, error)
	Unlock(passphrase string) error
	Lock() error
	IsUnlocked() bool
}

// IProvider is the admin surface served under the Provider namespace. The
// confirmation UI resolves pending requests through it; the CLI inspects
// state through it.
type IProvider interface {
	Version(ctx context.Context) (string, error)

	ListConnections(ctx context.Context) ([]ConnectionInfo, error)
	ListPermissions(ctx context.Context) ([]*permission.SitePermission, error)
	RevokePermission(ctx context.Context, origin string, account common.Address) error

	ListPendingRequests(ctx context.Context) ([]RequestInfo, error)
	ApproveRequest(ctx context.Context, id uuid.UUID, confirmOptions json.RawMessage) error
	RejectRequest(ctx context.Context, id uuid.UUID) error
	RejectAllPending(ctx context.Context) (int, error)

	ListAccounts(ctx context.Context) ([]common.Address, error)
	NewAccount(ctx context.Context, passphrase string) (common.Address, error)
	UnlockWallet(ctx context.Context, passphrase string) error
	LockWallet(ctx context.Context) error
	WalletUnlocked(ctx context.Context) (bool, error)
}
