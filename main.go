package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/etherlabsio/healthcheck/v2"
	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	ifcmetrics "github.com/ipfs-force-community/metrics"
	multiaddr "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/urfave/cli/v2"
	"go.opencensus.io/plugin/ochttp"

	"github.com/ipfs-force-community/sophon-provider/cmds"
	"github.com/ipfs-force-community/sophon-provider/config"
	"github.com/ipfs-force-community/sophon-provider/metrics"
	"github.com/ipfs-force-community/sophon-provider/version"
)

var log = logging.Logger("main")

func main() {
	_ = logging.SetLogLevel("*", "INFO")

	app := &cli.App{
		Name:  "sophon-provider",
		Usage: "mediate dapp provider requests between pages and the wallet",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "repo",
				Usage: "repo directory holding config, keystore and chain state",
				Value: config.DefaultRepoPath,
			},
			&cli.StringFlag{
				Name:  "listen",
				Usage: "host address and port the admin api will listen on",
				Value: "/ip4/127.0.0.1/tcp/45231",
			},
		},
		Commands: []*cli.Command{
			runCmd, cmds.PendingCmds, cmds.ConnsCmds, cmds.PermsCmds, cmds.WalletCmds,
		},
	}
	app.Version = version.UserVersion
	if err := app.Run(os.Args); err != nil {
		log.Warn(err)
		os.Exit(1)
	}
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "start the sophon-provider daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "port-listen",
			Usage: "host address and port page ports will connect to",
		},
	},
	Action: func(cctx *cli.Context) error {
		repoPath, err := config.HomePath(cctx.String("repo"))
		if err != nil {
			return err
		}
		cfg, err := config.ReadOrInitConfig(repoPath)
		if err != nil {
			return err
		}
		if cctx.IsSet("listen") {
			cfg.API.ListenAddress = cctx.String("listen")
		}
		if cctx.IsSet("port-listen") {
			cfg.Port.ListenAddress = cctx.String("port-listen")
		}
		return RunMain(cctx.Context, repoPath, cfg)
	},
}

func RunMain(ctx context.Context, repoPath string, cfg *config.Config) error {
	log.Infof("sophon-provider current version %s, repo %s", version.UserVersion, repoPath)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stack, err := buildProviderStack(ctx, repoPath, cfg)
	if err != nil {
		return err
	}
	defer stack.networks.Close()

	if err := metrics.SetupMetrics(ctx, cfg.Metrics); err != nil {
		return err
	}
	go metrics.RecordMetricsLoop(ctx, stack.apiImpl)

	apiMux := mux.NewRouter()
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Provider", stack.apiImpl)
	apiMux.Handle("/rpc/v1", rpcServer)
	apiMux.Handle("/healthcheck", healthcheck.Handler(
		healthcheck.WithTimeout(5*time.Second),
		healthcheck.WithChecker("chain", healthcheck.CheckerFunc(func(ctx context.Context) error {
			_, err := stack.networks.RPCHandle(stack.networks.ChainID())
			return err
		})),
	))

	apiHandler := http.Handler(apiMux)
	if reporter, err := ifcmetrics.RegisterJaeger(cfg.Trace.ServerName, cfg.Trace); err != nil {
		log.Warnf("register jaeger exporter failed %v", err)
	} else if reporter != nil {
		log.Infof("register jaeger exporter to %s, with node-name %s", cfg.Trace.JaegerEndpoint, cfg.Trace.ServerName)
		defer ifcmetrics.UnregisterJaeger(reporter)
		apiHandler = &ochttp.Handler{Handler: apiHandler}
	}

	portMux := mux.NewRouter()
	portMux.Handle("/port", stack.portSrv)

	apiSrv := &http.Server{Handler: apiHandler}
	portSrv := &http.Server{Handler: portMux}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown", "signal", sig)
		case <-ctx.Done():
			log.Warn("received shutdown")
		}

		log.Info("Shutting down...")
		if err := apiSrv.Shutdown(context.TODO()); err != nil {
			log.Errorf("shutting down admin server failed: %s", err)
		}
		if err := portSrv.Shutdown(context.TODO()); err != nil {
			log.Errorf("shutting down port server failed: %s", err)
		}
		cancel()
	}()

	portNl, err := listen(cfg.Port.ListenAddress)
	if err != nil {
		return err
	}
	log.Infof("start to port listen %s", portNl.Addr())
	go func() {
		if err := portSrv.Serve(manet.NetListener(portNl)); err != nil && err != http.ErrServerClosed {
			log.Errorf("port server exited: %s", err)
		}
	}()

	apiNl, err := listen(cfg.API.ListenAddress)
	if err != nil {
		return err
	}
	log.Infof("start to rpc listen %s", apiNl.Addr())
	metrics.ApiState.Set(ctx, 1)
	defer metrics.ApiState.Set(ctx, 0)
	if err := apiSrv.Serve(manet.NetListener(apiNl)); err != nil && err != http.ErrServerClosed {
		return err
	}

	log.Info("Graceful shutdown successful")
	return nil
}

func listen(addr string) (manet.Listener, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, err
	}
	return manet.Listen(ma)
}
