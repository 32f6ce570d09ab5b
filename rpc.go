package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/api"
	"github.com/ipfs-force-community/sophon-provider/config"
	"github.com/ipfs-force-community/sophon-provider/mediator"
	"github.com/ipfs-force-community/sophon-provider/permission"
	"github.com/ipfs-force-community/sophon-provider/port"
	"github.com/ipfs-force-community/sophon-provider/registry"
	"github.com/ipfs-force-community/sophon-provider/source"
	"github.com/ipfs-force-community/sophon-provider/types"
)

const chainsFile = "chains.json"

// chainBook is the persisted network list of one repo.
type chainBook struct {
	Active uint64              `json:"active"`
	Chains map[uint64][]string `json:"chains"`
}

func defaultChainBook() *chainBook {
	return &chainBook{
		Active: 1,
		Chains: map[uint64][]string{
			1: {"https://eth.llamarpc.com"},
		},
	}
}

func loadChainBook(repoPath string) (*chainBook, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, chainsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return defaultChainBook(), nil
		}
		return nil, errors.Wrap(err, "read chain book")
	}
	book := &chainBook{}
	if err := json.Unmarshal(data, book); err != nil {
		return nil, errors.Wrap(err, "parse chain book")
	}
	if book.Chains == nil {
		book.Chains = make(map[uint64][]string)
	}
	return book, nil
}

func saveChainBook(repoPath string, book *chainBook) error {
	data, err := json.MarshalIndent(book, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(repoPath, chainsFile), data, 0o644)
}

// providerStack is the assembled daemon: every collaborator plus the two
// serving surfaces.
type providerStack struct {
	ledger   *types.RequestLedger
	registry *registry.Registry
	networks *source.RPCNetworkSource
	signer   *source.KeystoreSigner
	med      *mediator.Mediator
	apiImpl  *api.ProviderAPIImpl
	portSrv  *port.Server
}

func buildProviderStack(ctx context.Context, repoPath string, cfg *config.Config) (*providerStack, error) {
	ledger := types.NewRequestLedger(ctx, cfg.Request)
	reg := registry.NewRegistry(cfg.Request)

	book, err := loadChainBook(repoPath)
	if err != nil {
		return nil, err
	}
	networks := source.NewRPCNetworkSource(book.Active, book.Chains)
	var bookLk sync.Mutex
	persist := func(update func()) {
		bookLk.Lock()
		defer bookLk.Unlock()
		update()
		if err := saveChainBook(repoPath, book); err != nil {
			log.Errorf("persist chain book: %v", err)
		}
	}
	networks.OnCommit(func(chainID uint64, urls []string) {
		persist(func() { book.Chains[chainID] = urls })
	})
	networks.OnSwitch(func(chainID uint64) {
		persist(func() { book.Active = chainID })
	})

	signer := source.NewKeystoreSigner(filepath.Join(repoPath, "keystore"))
	perms := permission.NewStore(ledger, reg.Get, signer)

	tokens, err := source.NewFileTokenBook(repoPath)
	if err != nil {
		return nil, err
	}

	ticker := source.NewBlockTicker(networks, cfg.Request.BlockNotifyInterval)
	go ticker.Run(ctx)

	med := mediator.NewMediator(ctx, cfg.Request, mediator.Deps{
		Registry:    reg,
		Permissions: perms,
		Ledger:      ledger,
		Networks:    networks,
		Keyring:     signer,
		TxSender:    source.NewRPCTxSender(networks, signer),
		Tokens:      tokens,
		Unlock:      signer,
		Ticks:       ticker,
	})

	return &providerStack{
		ledger:   ledger,
		registry: reg,
		networks: networks,
		signer:   signer,
		med:      med,
		apiImpl:  api.NewProviderAPIImpl(reg, perms, ledger, med, signer),
		portSrv:  port.NewServer(reg, med),
	}, nil
}
