package cmds

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/ethereum/go-ethereum/common"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/google/uuid"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"

	"github.com/ipfs-force-community/sophon-provider/api"
	"github.com/ipfs-force-community/sophon-provider/permission"
)

// ProviderAPI is the jsonrpc client stub of the admin surface.
type ProviderAPI struct {
	Version             func(ctx context.Context) (string, error)
	ListConnections     func(ctx context.Context) ([]api.ConnectionInfo, error)
	ListPermissions     func(ctx context.Context) ([]*permission.SitePermission, error)
	RevokePermission    func(ctx context.Context, origin string, account common.Address) error
	ListPendingRequests func(ctx context.Context) ([]api.RequestInfo, error)
	ApproveRequest      func(ctx context.Context, id uuid.UUID, confirmOptions json.RawMessage) error
	RejectRequest       func(ctx context.Context, id uuid.UUID) error
	RejectAllPending    func(ctx context.Context) (int, error)
	ListAccounts        func(ctx context.Context) ([]common.Address, error)
	NewAccount          func(ctx context.Context, passphrase string) (common.Address, error)
	UnlockWallet        func(ctx context.Context, passphrase string) error
	LockWallet          func(ctx context.Context) error
	WalletUnlocked      func(ctx context.Context) (bool, error)
}

func NewProviderClient(cctx *cli.Context) (*ProviderAPI, jsonrpc.ClientCloser, error) {
	addr, err := DialArgs(cctx.String("listen"))
	if err != nil {
		return nil, nil, err
	}
	return NewProviderClientWithURL(cctx.Context, addr)
}

func NewProviderClientWithURL(ctx context.Context, addr string) (*ProviderAPI, jsonrpc.ClientCloser, error) {
	providerAPI := &ProviderAPI{}
	closer, err := jsonrpc.NewMergeClient(ctx, addr,
		"Provider", []interface{}{providerAPI}, nil)
	if err != nil {
		return nil, nil, err
	}
	return providerAPI, closer, nil
}

func DialArgs(addr string) (string, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err == nil {
		_, addr, err := manet.DialArgs(ma)
		if err != nil {
			return "", err
		}

		return "ws://" + addr + "/rpc/v1", nil
	}

	_, err = url.Parse(addr)
	if err != nil {
		return "", err
	}
	return addr + "/rpc/v1", nil
}
