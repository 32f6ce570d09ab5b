package mediator

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/types"
)

func addChainParams(chainID, symbol string) map[string]interface{} {
	return map[string]interface{}{
		"chainId":   chainID,
		"chainName": "Polygon Mainnet",
		"rpcUrls":   []string{"https://polygon-rpc.example"},
		"nativeCurrency": map[string]interface{}{
			"name":     "Polygon",
			"symbol":   symbol,
			"decimals": 18,
		},
	}
}

func TestSwitchChainIdempotent(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")

	result, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x1"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.Empty(t, e.ledger.Pending())
}

func TestSwitchChainUnknown(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")

	_, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x89"})
	require.True(t, types.ErrUnknownChain.Is(err))
	require.Empty(t, e.ledger.Pending())
}

func TestSwitchChainApproved(t *testing.T) {
	e := newEnv(t, nil)
	conn, inst := e.connectPage("https://dapp.example")
	e.network.AddKnown(137)

	e.resolveNext(true, nil)
	result, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x89"})
	require.NoError(t, err)
	require.Nil(t, result)
	require.EqualValues(t, 137, e.network.ChainID())

	n := e.nextNotification(inst)
	require.Equal(t, types.EventChainChanged, n.Event)
	require.JSONEq(t, `{"chainId":"0x89","networkVersion":"137"}`, string(n.Payload))
}

func TestSwitchChainRejected(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.network.AddKnown(137)

	e.resolveNext(false, nil)
	_, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x89"})
	require.True(t, types.ErrUserRejectedRequest.Is(err))
	require.EqualValues(t, 1, e.network.ChainID())
}

func TestSwitchChainNeverStacks(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.network.AddKnown(137)
	e.network.AddKnown(10)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x89"})
		errCh <- err
	}()
	waitPendingID(t, e)

	_, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0xa"})
	require.True(t, types.ErrResourceUnavailable.Is(err))

	e.resolveNext(false, nil)
	require.Error(t, <-errCh)
}

func TestSwitchInvalidatesOtherPending(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.grant("https://dapp.example")
	e.network.AddKnown(137)

	otherConn, _ := e.connectPage("https://other.example")
	e.grant("https://other.example")

	assetErr := make(chan error, 1)
	go func() {
		_, err := e.dispatch(otherConn, "wallet_watchAsset", map[string]interface{}{
			"type": "ERC20",
			"options": map[string]interface{}{
				"address":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
				"symbol":   "DAI",
				"decimals": 18,
			},
		})
		assetErr <- err
	}()
	waitPendingID(t, e)

	switchErr := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "wallet_switchEthereumChain", map[string]string{"chainId": "0x89"})
		switchErr <- err
	}()
	// Approve the switch once both entries sit in the ledger.
	require.Eventually(t, func() bool {
		for _, req := range e.ledger.Pending() {
			if req.Type == types.RequestSwitchNetwork {
				require.NoError(t, e.ledger.Resolve(req.ID, true, nil))
				return true
			}
		}
		return false
	}, 5*time.Second, 2*time.Millisecond)

	require.NoError(t, <-switchErr)
	require.True(t, types.ErrUserRejectedRequest.Is(<-assetErr))
	require.Empty(t, e.ledger.Pending())
}

func TestAddChainProbeMismatch(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.network.SetProbed(1)

	_, err := e.dispatch(conn, "wallet_addEthereumChain", addChainParams("0x89", "POL"))
	require.True(t, types.ErrInvalidParams.Is(err))
	require.Empty(t, e.ledger.Pending())
	require.EqualValues(t, 1, e.network.ChainID())
}

func TestAddChainCurrencyMismatch(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.network.SetProbed(137)

	_, err := e.dispatch(conn, "wallet_addEthereumChain", addChainParams("0x89", "WRONG"))
	require.True(t, types.ErrInvalidParams.Is(err))
	require.Empty(t, e.ledger.Pending())
}

func TestAddChainApproved(t *testing.T) {
	e := newEnv(t, nil)
	conn, inst := e.connectPage("https://dapp.example")
	e.network.SetProbed(137)

	e.resolveNext(true, nil)
	result, err := e.dispatch(conn, "wallet_addEthereumChain", addChainParams("0x89", "POL"))
	require.NoError(t, err)
	require.Nil(t, result)

	// One approval commits the chain and switches to it.
	require.True(t, e.network.KnownChain(137))
	require.EqualValues(t, 137, e.network.ChainID())

	n := e.nextNotification(inst)
	require.Equal(t, types.EventChainChanged, n.Event)
	require.JSONEq(t, `{"chainId":"0x89","networkVersion":"137"}`, string(n.Payload))
}

func TestAddKnownChainShortCircuitsToSwitch(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.network.AddKnown(137)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "wallet_addEthereumChain", addChainParams("0x89", "POL"))
		errCh <- err
	}()

	id := waitPendingID(t, e)
	req, err := e.ledger.Get(id)
	require.NoError(t, err)
	require.Equal(t, types.RequestSwitchNetwork, req.Type)

	require.NoError(t, e.ledger.Resolve(id, true, nil))
	require.NoError(t, <-errCh)
	require.EqualValues(t, 137, e.network.ChainID())
}

func TestWatchAssetApproved(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	addr := e.grant("https://dapp.example")

	e.resolveNext(true, nil)
	result, err := e.dispatch(conn, "wallet_watchAsset", map[string]interface{}{
		"type": "ERC20",
		"options": map[string]interface{}{
			"address":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			"symbol":   "DAI",
			"decimals": 18,
		},
	})
	require.NoError(t, err)
	require.Equal(t, true, result)

	watched, err := e.tokens.HasToken(e.ctx, addr, common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"))
	require.NoError(t, err)
	require.True(t, watched)
}

func TestWatchAssetAlreadyWatchedFlag(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	addr := e.grant("https://dapp.example")

	token := types.Token{Address: common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F"), Symbol: "DAI", Decimals: 18}
	require.NoError(t, e.tokens.CommitToken(e.ctx, addr, token))

	errCh := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "wallet_watchAsset", map[string]interface{}{
			"type": "ERC20",
			"options": map[string]interface{}{
				"address":  token.Address.Hex(),
				"symbol":   "DAI",
				"decimals": 18,
			},
		})
		errCh <- err
	}()

	id := waitPendingID(t, e)
	req, err := e.ledger.Get(id)
	require.NoError(t, err)
	params, ok := req.Params.(*types.WatchAssetParams)
	require.True(t, ok)
	require.True(t, params.AlreadyWatched)

	require.NoError(t, e.ledger.Resolve(id, true, nil))
	require.NoError(t, <-errCh)
}

func TestWatchAssetWithoutGrant(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")

	_, err := e.dispatch(conn, "wallet_watchAsset", map[string]interface{}{
		"type": "ERC20",
		"options": map[string]interface{}{
			"address":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			"symbol":   "DAI",
			"decimals": 18,
		},
	})
	require.True(t, types.ErrUnauthorized.Is(err))
	require.Empty(t, e.ledger.Pending())
}

func TestWatchAssetUnsupportedType(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")
	e.grant("https://dapp.example")

	_, err := e.dispatch(conn, "wallet_watchAsset", map[string]interface{}{
		"type":    "ERC721",
		"options": map[string]interface{}{"address": "0x6B175474E89094C44Da98b954EedeAC495271d0F", "symbol": "NFT", "decimals": 0},
	})
	require.True(t, types.ErrInvalidParams.Is(err))
	require.Empty(t, e.ledger.Pending())
}
