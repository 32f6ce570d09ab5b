package api

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ipfs-force-community/sophon-provider/mediator"
	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/types"
	"github.com/ipfs-force-community/sophon-provider/version"
)

var (
	_ IProvider            = (*ProviderAPIImpl)(nil)
	_ types.RequestDecider = (*ProviderAPIImpl)(nil)
)

type ProviderAPIImpl struct {
	reg    registry.IRegistry
	perms  permission.IPermissionStore
	ledger *types.RequestLedger
	med    *mediator.Mediator
	wallet WalletAdmin
}

func NewProviderAPIImpl(reg registry.IRegistry, perms permission.IPermissionStore, ledger *types.RequestLedger, med *mediator.Mediator, wallet WalletAdmin) *ProviderAPIImpl {
	return &ProviderAPIImpl{
		reg:    reg,
		perms:  perms,
		ledger: ledger,
		med:    med,
		wallet: wallet,
	}
}

func (p *ProviderAPIImpl) Version(ctx context.Context) (string, error) {
	return version.UserVersion, nil
}

func (p *ProviderAPIImpl) ListConnections(ctx context.Context) ([]ConnectionInfo, error) {
	instances := p.reg.List()
	infos := make([]ConnectionInfo, 0, len(instances))
	for _, inst := range instances {
		infos = append(infos, ConnectionInfo{
			ID:         inst.ID,
			Kind:       inst.Kind.String(),
			Origin:     inst.Origin,
			TabID:      inst.TabID,
			Site:       inst.Site,
			CreateTime: inst.CreateTime,
		})
	}
	return infos, nil
}

func (p *ProviderAPIImpl) ListPermissions(ctx context.Context) ([]*permission.SitePermission, error) {
	return p.perms.ListSites(), nil
}

func (p *ProviderAPIImpl) RevokePermission(ctx context.Context, origin string, account common.Address) error {
	return p.perms.RemoveAccount(origin, account)
}

func (p *ProviderAPIImpl) ListPendingRequests(ctx context.Context) ([]RequestInfo, error) {
	pending := p.ledger.Pending()
	infos := make([]RequestInfo, 0, len(pending))
	for _, req := range pending {
		params, err := json.Marshal(req.Params)
		if err != nil {
			params = nil
		}
		infos = append(infos, RequestInfo{
			ID:         req.ID,
			Type:       req.Type.String(),
			Status:     req.Status.String(),
			Origin:     req.Origin,
			CreateTime: req.CreateTime,
			Params:     params,
		})
	}
	return infos, nil
}

func (p *ProviderAPIImpl) ApproveRequest(ctx context.Context, id uuid.UUID, confirmOptions json.RawMessage) error {
	return p.ledger.Resolve(id, true, confirmOptions)
}

func (p *ProviderAPIImpl) RejectRequest(ctx context.Context, id uuid.UUID) error {
	if err := p.ledger.Resolve(id, false, nil); err == nil {
		return nil
	}
	// Already approved and in flight: flag it so the signing loop backs
	// out on its next poll.
	return p.ledger.FlagRejected(id)
}

func (p *ProviderAPIImpl) RejectAllPending(ctx context.Context) (int, error) {
	return p.med.RejectUnconfirmed(ctx), nil
}

func (p *ProviderAPIImpl) ListAccounts(ctx context.Context) ([]common.Address, error) {
	if p.wallet == nil {
		return nil, types.ErrUnsupportedMethod
	}
	return p.wallet.Accounts(), nil
}

func (p *ProviderAPIImpl) NewAccount(ctx context.Context, passphrase string) (common.Address, error) {
	if p.wallet == nil {
		return common.Address{}, types.ErrUnsupportedMethod
	}
	return p.wallet.NewAccount(passphrase)
}

func (p *ProviderAPIImpl) UnlockWallet(ctx context.Context, passphrase string) error {
	if p.wallet == nil {
		return types.ErrUnsupportedMethod
	}
	return p.wallet.Unlock(passphrase)
}

func (p *ProviderAPIImpl) LockWallet(ctx context.Context) error {
	if p.wallet == nil {
		return types.ErrUnsupportedMethod
	}
	return p.wallet.Lock()
}

func (p *ProviderAPIImpl) WalletUnlocked(ctx context.Context) (bool, error) {
	if p.wallet == nil {
		return false, nil
	}
	return p.wallet.IsUnlocked(), nil
}

// ConnectionCounts, PendingRequestCount and SubscriptionCount implement
// the metrics sampler.
func (p *ProviderAPIImpl) ConnectionCounts() map[string]int64 {
	counts := make(map[string]int64)
	for _, inst := range p.reg.List() {
		counts[inst.Kind.String()]++
	}
	return counts
}

func (p *ProviderAPIImpl) PendingRequestCount() int {
	pending, inFlight := p.ledger.PendingCount()
	return pending + inFlight
}

func (p *ProviderAPIImpl) SubscriptionCount() int {
	return p.med.SubscriptionCount()
}
