package permission

import (
	"context"
	"encoding/json"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("permission_store")

// SitePermission is the grant record of one origin: the ordered list of
// authorized accounts and the currently active one. The active account is
// always an element of the list, or zero when the list is empty.
type SitePermission struct {
	Origin   string             `json:"origin"`
	Accounts []common.Address   `json:"accounts"`
	Active   common.Address     `json:"active"`
	Site     types.SiteMetadata `json:"site"`
}

func (s *SitePermission) clone() *SitePermission {
	cp := *s
	cp.Accounts = append([]common.Address(nil), s.Accounts...)
	return &cp
}

type IPermissionStore interface {
	GetAccounts(origin string) []common.Address
	ConnectionRequest(ctx context.Context, conn types.ConnectionID) ([]common.Address, error)
	AddNewSite(origin string, site types.SiteMetadata, accounts []common.Address)
	UpdateSite(origin string, site types.SiteMetadata) error
	RemoveAccount(origin string, account common.Address) error
	RemoveAllPermissionsOfAccount(account common.Address)
	GetAccountPermissions(account common.Address) []string
	AccountHasPermissions(account common.Address) bool
	GetSite(origin string) (*SitePermission, error)
	ListSites() []*SitePermission
	OnSelectedAddressChanged(account common.Address)
	OnAccountsChanged(fn func(origin string, accounts []common.Address))
}

var _ IPermissionStore = (*Store)(nil)

// Store holds per-origin account grants. Single-writer: only the store
// itself mutates sites, so one mutex suffices.
type Store struct {
	lk     sync.Mutex
	sites  map[string]*SitePermission
	ledger *types.RequestLedger
	lookup func(types.ConnectionID) (*types.ProviderInstance, error)
	unlock types.UnlockSource

	onChange []func(origin string, accounts []common.Address)
}

func NewStore(ledger *types.RequestLedger, lookup func(types.ConnectionID) (*types.ProviderInstance, error), unlock types.UnlockSource) *Store {
	return &Store{
		sites:  make(map[string]*SitePermission),
		ledger: ledger,
		lookup: lookup,
		unlock: unlock,
	}
}

// OnAccountsChanged hooks grant mutations; the mediator fans the new list
// out to the origin's pages as an accountsChanged event.
func (s *Store) OnAccountsChanged(fn func(origin string, accounts []common.Address)) {
	s.onChange = append(s.onChange, fn)
}

// GetAccounts returns the authorized accounts of origin, active account
// first. Empty while the wallet is locked or when origin has no grant.
func (s *Store) GetAccounts(origin string) []common.Address {
	if s.unlock != nil && !s.unlock.IsUnlocked() {
		return []common.Address{}
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	site, ok := s.sites[origin]
	if !ok {
		return []common.Address{}
	}
	out := make([]common.Address, 0, len(site.Accounts))
	if site.Active != (common.Address{}) {
		out = append(out, site.Active)
	}
	for _, acc := range site.Accounts {
		if acc != site.Active {
			out = append(out, acc)
		}
	}
	return out
}

// ConnectionRequest grants origin access to accounts. Idempotent: an origin
// that already holds a grant gets it back without a prompt. Otherwise a
// PERMISSION-class pending entry waits for the UI; the confirm options
// carry the account list the user selected.
func (s *Store) ConnectionRequest(ctx context.Context, conn types.ConnectionID) ([]common.Address, error) {
	inst, err := s.lookup(conn)
	if err != nil {
		return nil, err
	}

	s.lk.Lock()
	if site, ok := s.sites[inst.Origin]; ok {
		accounts := append([]common.Address(nil), site.Accounts...)
		s.lk.Unlock()
		return accounts, nil
	}
	s.lk.Unlock()

	req := types.NewPendingRequest(types.RequestPermission, nil, inst.Origin, conn, inst.Site)
	decision, err := s.ledger.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		return nil, types.ErrUserRejectedRequest
	}

	var accounts []common.Address
	if err := json.Unmarshal(decision.ConfirmOptions, &accounts); err != nil {
		decision.Complete(err)
		return nil, errors.Wrap(types.ErrInternal.WithDetail("malformed confirm options"), err.Error())
	}
	if len(accounts) == 0 {
		decision.Complete(types.ErrUserRejectedRequest)
		return nil, types.ErrUserRejectedRequest
	}

	s.AddNewSite(inst.Origin, inst.Site, accounts)
	decision.Complete(nil)
	return accounts, nil
}

func (s *Store) AddNewSite(origin string, site types.SiteMetadata, accounts []common.Address) {
	s.lk.Lock()
	s.sites[origin] = &SitePermission{
		Origin:   origin,
		Accounts: append([]common.Address(nil), accounts...),
		Site:     site,
	}
	s.revalidateLocked(s.sites[origin])
	changed := s.snapshotLocked(origin)
	s.lk.Unlock()
	s.emit(origin, changed)
	log.Infow("new site permission", "origin", origin, "accounts", len(accounts))
}

func (s *Store) UpdateSite(origin string, site types.SiteMetadata) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	perm, ok := s.sites[origin]
	if !ok {
		return types.ErrNotFound
	}
	perm.Site = site
	return nil
}

func (s *Store) RemoveAccount(origin string, account common.Address) error {
	s.lk.Lock()
	perm, ok := s.sites[origin]
	if !ok {
		s.lk.Unlock()
		return types.ErrNotFound
	}
	kept := perm.Accounts[:0]
	for _, acc := range perm.Accounts {
		if acc != account {
			kept = append(kept, acc)
		}
	}
	if len(kept) == 0 {
		// A site with no grants left is no site at all.
		delete(s.sites, origin)
		s.lk.Unlock()
		s.emit(origin, []common.Address{})
		return nil
	}
	perm.Accounts = kept
	s.revalidateLocked(perm)
	changed := s.snapshotLocked(origin)
	s.lk.Unlock()
	s.emit(origin, changed)
	return nil
}

func (s *Store) RemoveAllPermissionsOfAccount(account common.Address) {
	s.lk.Lock()
	var touched []string
	for origin, perm := range s.sites {
		kept := perm.Accounts[:0]
		for _, acc := range perm.Accounts {
			if acc != account {
				kept = append(kept, acc)
			}
		}
		if len(kept) != len(perm.Accounts) {
			if len(kept) == 0 {
				delete(s.sites, origin)
			} else {
				perm.Accounts = kept
				s.revalidateLocked(perm)
			}
			touched = append(touched, origin)
		}
	}
	changes := make(map[string][]common.Address, len(touched))
	for _, origin := range touched {
		changes[origin] = s.snapshotLocked(origin)
	}
	s.lk.Unlock()
	for origin, accounts := range changes {
		s.emit(origin, accounts)
	}
	log.Infow("removed account from all sites", "account", account, "sites", len(touched))
}

func (s *Store) GetAccountPermissions(account common.Address) []string {
	s.lk.Lock()
	defer s.lk.Unlock()
	var origins []string
	for origin, perm := range s.sites {
		if mapset.NewSet(perm.Accounts...).Contains(account) {
			origins = append(origins, origin)
		}
	}
	return origins
}

func (s *Store) AccountHasPermissions(account common.Address) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	for _, perm := range s.sites {
		if mapset.NewSet(perm.Accounts...).Contains(account) {
			return true
		}
	}
	return false
}

func (s *Store) GetSite(origin string) (*SitePermission, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	perm, ok := s.sites[origin]
	if !ok {
		return nil, types.ErrNotFound
	}
	return perm.clone(), nil
}

func (s *Store) ListSites() []*SitePermission {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := make([]*SitePermission, 0, len(s.sites))
	for _, perm := range s.sites {
		out = append(out, perm.clone())
	}
	return out
}

// OnSelectedAddressChanged re-validates the active account of every site
// whose grant contains the new selection.
func (s *Store) OnSelectedAddressChanged(account common.Address) {
	s.lk.Lock()
	changes := make(map[string][]common.Address)
	for origin, perm := range s.sites {
		if !mapset.NewSet(perm.Accounts...).Contains(account) {
			continue
		}
		if perm.Active != account {
			perm.Active = account
			changes[origin] = s.snapshotLocked(origin)
		}
	}
	s.lk.Unlock()
	for origin, accounts := range changes {
		s.emit(origin, accounts)
	}
}

// revalidateLocked restores the active-account invariant after a mutation
// and deletes the site when its list emptied. Callers hold lk.
func (s *Store) revalidateLocked(perm *SitePermission) {
	if len(perm.Accounts) == 0 {
		delete(s.sites, perm.Origin)
		perm.Active = common.Address{}
		return
	}
	if !mapset.NewSet(perm.Accounts...).Contains(perm.Active) {
		perm.Active = perm.Accounts[0]
	}
}

func (s *Store) snapshotLocked(origin string) []common.Address {
	perm, ok := s.sites[origin]
	if !ok {
		return []common.Address{}
	}
	out := make([]common.Address, 0, len(perm.Accounts))
	if perm.Active != (common.Address{}) {
		out = append(out, perm.Active)
	}
	for _, acc := range perm.Accounts {
		if acc != perm.Active {
			out = append(out, acc)
		}
	}
	return out
}

func (s *Store) emit(origin string, accounts []common.Address) {
	for _, fn := range s.onChange {
		fn(origin, accounts)
	}
}
