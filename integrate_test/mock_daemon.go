package integrate

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"

	"github.com/ipfs-force-community/sophon-provider/api"
	"github.com/ipfs-force-community/sophon-provider/mediator"
	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/port"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/source"
	"github.com/ipfs-force-community/sophon-provider/testhelper"
	"github.com/ipfs-force-community/sophon-provider/types"
)

var log = logging.Logger("mock main")

// MockDaemon is an in-process daemon serving both surfaces over httptest:
// the admin jsonrpc endpoint and the page-port websocket endpoint. The
// keystore is real; chain access and transaction ordering are in-memory.
type MockDaemon struct {
	APIURL  string
	PortURL string

	Registry *registry.Registry
	Ledger   *types.RequestLedger
	Networks *testhelper.MemNetwork
	Signer   *source.KeystoreSigner

	srv *httptest.Server
}

func MockMain(ctx context.Context, repoPath string, cfg *types.RequestConfig) (*MockDaemon, error) {
	ledger := types.NewRequestLedger(ctx, cfg)
	reg := registry.NewRegistry(cfg)
	networks := testhelper.NewMemNetwork(1)
	signer := source.NewKeystoreSigner(filepath.Join(repoPath, "keystore"))
	perms := permission.NewStore(ledger, reg.Get, signer)

	med := mediator.NewMediator(ctx, cfg, mediator.Deps{
		Registry:    reg,
		Permissions: perms,
		Ledger:      ledger,
		Networks:    networks,
		Keyring:     signer,
		TxSender:    &testhelper.MemTxSender{},
		Tokens:      testhelper.NewMemTokens(),
		Unlock:      signer,
		Ticks:       testhelper.NewMemTicker(),
		Window:      &testhelper.StubWindow{},
	})

	impl := api.NewProviderAPIImpl(reg, perms, ledger, med, signer)

	router := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Provider", impl)
	router.Handle("/rpc/v1", rpcServer)
	router.Handle("/port", port.NewServer(reg, med))

	srv := httptest.NewServer(router)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	log.Infof("mock daemon listening on %s", srv.URL)

	return &MockDaemon{
		APIURL:   wsURL + "/rpc/v1",
		PortURL:  wsURL + "/port",
		Registry: reg,
		Ledger:   ledger,
		Networks: networks,
		Signer:   signer,
		srv:      srv,
	}, nil
}

func (d *MockDaemon) Close() {
	d.srv.Close()
}
