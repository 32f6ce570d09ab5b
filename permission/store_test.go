package permission

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/types"
)

var (
	acc1 = common.HexToAddress("0x8ba1f109551bD432803012645Ac136ddd64DBA72")
	acc2 = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	acc3 = common.HexToAddress("0x00000000219ab540356cBB839Cbe05303d7705Fa")
)

type stubUnlock struct{ unlocked bool }

func (s *stubUnlock) IsUnlocked() bool     { return s.unlocked }
func (s *stubUnlock) Changes() <-chan bool { return nil }

func setupStore(t *testing.T) (*Store, *types.RequestLedger, *types.ProviderInstance, *stubUnlock) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ledger := types.NewRequestLedger(ctx, types.DefaultConfig())
	inst := types.NewProviderInstance(types.ConnPage, types.PortInfo{
		URL:    "https://dapp.example/app",
		Origin: "https://dapp.example",
		Site:   types.SiteMetadata{Name: "dapp"},
	}, 8)
	unlock := &stubUnlock{unlocked: true}
	store := NewStore(ledger, func(id types.ConnectionID) (*types.ProviderInstance, error) {
		if id == inst.ID {
			return inst, nil
		}
		return nil, types.ErrNotFound
	}, unlock)
	return store, ledger, inst, unlock
}

func TestConnectionRequest(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		store, ledger, inst, _ := setupStore(t)
		ctx := context.Background()

		resCh := make(chan []common.Address, 1)
		errCh := make(chan error, 1)
		go func() {
			accounts, err := store.ConnectionRequest(ctx, inst.ID)
			if err != nil {
				errCh <- err
				return
			}
			resCh <- accounts
		}()

		var pending []types.PendingRequest
		require.Eventually(t, func() bool {
			pending = ledger.Pending()
			return len(pending) == 1
		}, time.Second, 5*time.Millisecond)
		require.Equal(t, types.RequestPermission, pending[0].Type)
		require.Equal(t, "https://dapp.example", pending[0].Origin)

		opts, err := json.Marshal([]common.Address{acc1, acc2})
		require.NoError(t, err)
		require.NoError(t, ledger.Resolve(pending[0].ID, true, opts))

		select {
		case accounts := <-resCh:
			require.Equal(t, []common.Address{acc1, acc2}, accounts)
		case err := <-errCh:
			t.Fatalf("unexpected error %v", err)
		case <-time.After(time.Second):
			t.Fatal("connection request did not settle")
		}

		// the grant committed with the first account active
		site, err := store.GetSite("https://dapp.example")
		require.NoError(t, err)
		require.Equal(t, acc1, site.Active)

		// idempotent second call, no new prompt
		accounts, err := store.ConnectionRequest(ctx, inst.ID)
		require.NoError(t, err)
		require.Equal(t, []common.Address{acc1, acc2}, accounts)
		require.Empty(t, ledger.Pending())
	})

	t.Run("rejected", func(t *testing.T) {
		store, ledger, inst, _ := setupStore(t)
		errCh := make(chan error, 1)
		go func() {
			_, err := store.ConnectionRequest(context.Background(), inst.ID)
			errCh <- err
		}()
		require.Eventually(t, func() bool { return len(ledger.Pending()) == 1 }, time.Second, 5*time.Millisecond)
		require.NoError(t, ledger.Resolve(ledger.Pending()[0].ID, false, nil))
		require.True(t, errors.Is(<-errCh, types.ErrUserRejectedRequest))
		_, err := store.GetSite("https://dapp.example")
		require.True(t, errors.Is(err, types.ErrNotFound))
	})

	t.Run("unknown connection", func(t *testing.T) {
		store, _, _, _ := setupStore(t)
		_, err := store.ConnectionRequest(context.Background(), types.NewConnectionID())
		require.True(t, errors.Is(err, types.ErrNotFound))
	})
}

func TestGetAccountsLocked(t *testing.T) {
	store, _, _, unlock := setupStore(t)
	store.AddNewSite("https://dapp.example", types.SiteMetadata{}, []common.Address{acc1})

	require.Equal(t, []common.Address{acc1}, store.GetAccounts("https://dapp.example"))
	unlock.unlocked = false
	require.Empty(t, store.GetAccounts("https://dapp.example"))
	unlock.unlocked = true
	require.Empty(t, store.GetAccounts("https://unknown.example"))
}

func TestActiveAccountRevalidation(t *testing.T) {
	store, _, _, _ := setupStore(t)
	origin := "https://dapp.example"
	store.AddNewSite(origin, types.SiteMetadata{}, []common.Address{acc1, acc2})

	// selecting a granted account activates it
	store.OnSelectedAddressChanged(acc2)
	site, err := store.GetSite(origin)
	require.NoError(t, err)
	require.Equal(t, acc2, site.Active)
	// active account first
	require.Equal(t, []common.Address{acc2, acc1}, store.GetAccounts(origin))

	// selecting an ungranted account changes nothing
	store.OnSelectedAddressChanged(acc3)
	site, err = store.GetSite(origin)
	require.NoError(t, err)
	require.Equal(t, acc2, site.Active)

	// removing the active account falls back to the first remaining one
	require.NoError(t, store.RemoveAccount(origin, acc2))
	site, err = store.GetSite(origin)
	require.NoError(t, err)
	require.Equal(t, acc1, site.Active)

	// removing the last account deletes the site
	require.NoError(t, store.RemoveAccount(origin, acc1))
	_, err = store.GetSite(origin)
	require.True(t, errors.Is(err, types.ErrNotFound))
}

func TestRemoveAllPermissionsOfAccount(t *testing.T) {
	store, _, _, _ := setupStore(t)
	store.AddNewSite("https://a.example", types.SiteMetadata{}, []common.Address{acc1, acc2})
	store.AddNewSite("https://b.example", types.SiteMetadata{}, []common.Address{acc1})
	store.AddNewSite("https://c.example", types.SiteMetadata{}, []common.Address{acc2})

	require.True(t, store.AccountHasPermissions(acc1))
	require.ElementsMatch(t, []string{"https://a.example", "https://b.example"}, store.GetAccountPermissions(acc1))

	store.RemoveAllPermissionsOfAccount(acc1)
	require.False(t, store.AccountHasPermissions(acc1))

	// a.example kept acc2, b.example is gone
	site, err := store.GetSite("https://a.example")
	require.NoError(t, err)
	require.Equal(t, []common.Address{acc2}, site.Accounts)
	_, err = store.GetSite("https://b.example")
	require.True(t, errors.Is(err, types.ErrNotFound))
	require.Len(t, store.ListSites(), 2)
}

func TestAccountsChangedHook(t *testing.T) {
	store, _, _, _ := setupStore(t)
	var gotOrigin string
	var gotAccounts []common.Address
	store.OnAccountsChanged(func(origin string, accounts []common.Address) {
		gotOrigin, gotAccounts = origin, accounts
	})

	store.AddNewSite("https://a.example", types.SiteMetadata{}, []common.Address{acc1, acc2})
	require.Equal(t, "https://a.example", gotOrigin)
	require.Equal(t, []common.Address{acc1, acc2}, gotAccounts)

	store.OnSelectedAddressChanged(acc2)
	require.Equal(t, []common.Address{acc2, acc1}, gotAccounts)
}
