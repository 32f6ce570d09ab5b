package mediator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/types"
)

func TestWindowOpensOnPendingAndClosesAfter(t *testing.T) {
	e := newEnv(t, nil)
	conn, _ := e.connectPage("https://dapp.example")

	errCh := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "eth_requestAccounts")
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		opens, _, _ := e.window.Counts()
		return opens >= 1
	}, 5*time.Second, 2*time.Millisecond)

	id := waitPendingID(t, e)
	require.NoError(t, e.ledger.Resolve(id, false, nil))
	require.Error(t, <-errCh)

	// Closing waits out the grace delay, then focus returns to the tab.
	require.Eventually(t, func() bool {
		_, closes, focuses := e.window.Counts()
		return closes >= 1 && focuses >= 1
	}, 5*time.Second, 2*time.Millisecond)
}

func TestWindowStaysOpenAcrossBackToBackRequests(t *testing.T) {
	e := newEnv(t, func(cfg *types.RequestConfig) {
		cfg.WindowGraceDelay = 200 * time.Millisecond
	})
	conn, _ := e.connectPage("https://dapp.example")
	addr := e.grant("https://dapp.example")

	for i := 0; i < 2; i++ {
		errCh := make(chan error, 1)
		go func() {
			_, err := e.dispatch(conn, "personal_sign", "0x68656c6c6f", addr.Hex())
			errCh <- err
		}()
		id := waitPendingID(t, e)
		require.NoError(t, e.ledger.Resolve(id, true, nil))
		require.NoError(t, <-errCh)
	}

	// Both prompts fit inside one grace window.
	time.Sleep(300 * time.Millisecond)
	_, closes, _ := e.window.Counts()
	require.Equal(t, 1, closes)
}

func TestCloseNowSkipsGraceDelay(t *testing.T) {
	e := newEnv(t, func(cfg *types.RequestConfig) {
		cfg.WindowGraceDelay = 10 * time.Second
	})
	conn, _ := e.connectPage("https://dapp.example")
	e.unlock.SetUnlocked(false)
	time.Sleep(20 * time.Millisecond)

	errCh := make(chan error, 1)
	go func() {
		_, err := e.dispatch(conn, "eth_requestAccounts")
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		opens, _, _ := e.window.Counts()
		return opens >= 1
	}, 5*time.Second, 2*time.Millisecond)

	// Unlocking closes the prompt immediately, no grace wait.
	e.grant("https://dapp.example")
	e.unlock.SetUnlocked(true)
	require.NoError(t, <-errCh)
	require.Eventually(t, func() bool {
		_, closes, _ := e.window.Counts()
		return closes >= 1
	}, 5*time.Second, 2*time.Millisecond)
}
