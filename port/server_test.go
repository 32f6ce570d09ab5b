package port

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/ipfs-force-community/sophon-provider/mediator"
	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/testhelper"
	"github.com/ipfs-force-community/sophon-provider/types"
)

type portEnv struct {
	t      *testing.T
	reg    *registry.Registry
	srv    *httptest.Server
	ledger *types.RequestLedger
}

func newPortEnv(t *testing.T) *portEnv {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := types.DefaultConfig()
	reg := registry.NewRegistry(cfg)
	ledger := types.NewRequestLedger(ctx, cfg)
	perms := permission.NewStore(ledger, reg.Get, testhelper.NewMemUnlock(true))
	med := mediator.NewMediator(ctx, cfg, mediator.Deps{
		Registry:    reg,
		Permissions: perms,
		Ledger:      ledger,
		Networks:    testhelper.NewMemNetwork(1),
		Keyring:     testhelper.NewMemKeyring(),
		TxSender:    &testhelper.MemTxSender{},
		Tokens:      testhelper.NewMemTokens(),
		Unlock:      testhelper.NewMemUnlock(true),
		Ticks:       testhelper.NewMemTicker(),
		Window:      &testhelper.StubWindow{},
	})

	srv := httptest.NewServer(NewServer(reg, med))
	t.Cleanup(srv.Close)
	return &portEnv{t: t, reg: reg, srv: srv, ledger: ledger}
}

func (e *portEnv) dial(origin string) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?tab=1&window=1&url=" + origin + "/app"
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(e.t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	e.t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func TestDispatchOverPort(t *testing.T) {
	e := newPortEnv(t)
	conn := e.dial("https://dapp.example")

	require.NoError(t, conn.WriteJSON(requestFrame{ID: 1, Method: "eth_chainId"}))
	frame := readFrame(t, conn)
	require.JSONEq(t, `1`, string(frame["id"]))
	require.JSONEq(t, `"0x1"`, string(frame["result"]))
}

func TestErrorFrameOverPort(t *testing.T) {
	e := newPortEnv(t)
	conn := e.dial("https://dapp.example")

	require.NoError(t, conn.WriteJSON(requestFrame{ID: 7, Method: "eth_fancyMethod"}))
	frame := readFrame(t, conn)
	require.JSONEq(t, `7`, string(frame["id"]))
	var body errorBody
	require.NoError(t, json.Unmarshal(frame["error"], &body))
	require.Equal(t, types.ErrUnsupportedMethod.Code, body.Code)
}

func TestNotificationPush(t *testing.T) {
	e := newPortEnv(t)
	conn := e.dial("https://dapp.example")

	// Wait for registration before broadcasting.
	require.Eventually(t, func() bool { return len(e.reg.List()) == 1 }, 5*time.Second, 2*time.Millisecond)
	e.reg.Broadcast(types.ConnPage, types.ChainChangedNotification(137, "137"))

	frame := readFrame(t, conn)
	require.JSONEq(t, `"chainChanged"`, string(frame["event"]))
	require.JSONEq(t, `{"chainId":"0x89","networkVersion":"137"}`, string(frame["payload"]))
}

func TestPortRefusedWithoutOrigin(t *testing.T) {
	e := newPortEnv(t)

	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?tab=1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Nil(t, conn)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestPortRefusedWithBadTabID(t *testing.T) {
	e := newPortEnv(t)
	origin := "https://dapp.example"

	// a non-numeric tab id must not slip through as tab 0
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/?tab=abc&window=1&url=" + origin + "/app"
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.Nil(t, conn)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()
	require.Empty(t, e.reg.List())
}

func TestUnregisterOnClose(t *testing.T) {
	e := newPortEnv(t)
	conn := e.dial("https://dapp.example")
	require.Eventually(t, func() bool { return len(e.reg.List()) == 1 }, 5*time.Second, 2*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return len(e.reg.List()) == 0 }, 5*time.Second, 2*time.Millisecond)
}
