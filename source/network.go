package source

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/pkg/errors"

	"github.com/ipfs-force-community/sophon-provider/chainlist"
	"github.com/ipfs-force-community/sophon-provider/types"
	"github.com/ipfs-force-community/sophon-provider/validator"
)

var log = logging.Logger("chain_source")

var _ types.NetworkSource = (*RPCNetworkSource)(nil)

// RPCNetworkSource is the network collaborator backed by remote JSON-RPC
// endpoints, one per enabled chain. Clients are dialed lazily and cached.
type RPCNetworkSource struct {
	lk      sync.Mutex
	active  uint64
	chains  map[uint64][]string
	clients map[uint64]*rpc.Client
	changed chan uint64

	// onCommit persists a newly accepted chain, e.g. into the repo config.
	// onSwitch persists the active chain id.
	onCommit func(chainID uint64, urls []string)
	onSwitch func(chainID uint64)
}

func NewRPCNetworkSource(active uint64, chains map[uint64][]string) *RPCNetworkSource {
	if chains == nil {
		chains = make(map[uint64][]string)
	}
	return &RPCNetworkSource{
		active:  active,
		chains:  chains,
		clients: make(map[uint64]*rpc.Client),
		changed: make(chan uint64, 16),
	}
}

func (s *RPCNetworkSource) OnCommit(fn func(chainID uint64, urls []string)) {
	s.lk.Lock()
	s.onCommit = fn
	s.lk.Unlock()
}

// OnSwitch hooks active-chain persistence.
func (s *RPCNetworkSource) OnSwitch(fn func(chainID uint64)) {
	s.lk.Lock()
	s.onSwitch = fn
	s.lk.Unlock()
}

func (s *RPCNetworkSource) ChainID() uint64 {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.active
}

func (s *RPCNetworkSource) NetworkVersion() string {
	return chainlist.NetworkVersion(s.ChainID())
}

func (s *RPCNetworkSource) KnownChain(chainID uint64) bool {
	s.lk.Lock()
	defer s.lk.Unlock()
	_, ok := s.chains[chainID]
	return ok
}

func (s *RPCNetworkSource) RPCHandle(chainID uint64) (types.RPCHandle, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if client, ok := s.clients[chainID]; ok {
		return client, nil
	}
	urls, ok := s.chains[chainID]
	if !ok || len(urls) == 0 {
		return nil, errors.Errorf("chain %d has no endpoint", chainID)
	}
	client, err := rpc.Dial(urls[0])
	if err != nil {
		return nil, errors.Wrapf(err, "dial chain %d", chainID)
	}
	s.clients[chainID] = client
	return client, nil
}

// ProbeChainID dials a candidate endpoint once and asks it for its chain
// id. The connection is not cached; the chain may still be refused.
func (s *RPCNetworkSource) ProbeChainID(ctx context.Context, rpcURL string) (uint64, error) {
	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return 0, errors.Wrap(err, "dial candidate endpoint")
	}
	defer client.Close()

	var result hexutil.Big
	if err := client.CallContext(ctx, &result, "eth_chainId"); err != nil {
		return 0, errors.Wrap(err, "eth_chainId")
	}
	return result.ToInt().Uint64(), nil
}

func (s *RPCNetworkSource) CommitChain(ctx context.Context, params *types.AddChainParams) error {
	chainID, err := validator.ParseChainID(params.ChainID)
	if err != nil {
		return err
	}
	s.lk.Lock()
	s.chains[chainID] = append([]string(nil), params.RPCURLs...)
	onCommit := s.onCommit
	s.lk.Unlock()

	if onCommit != nil {
		onCommit(chainID, params.RPCURLs)
	}
	log.Infow("chain committed", "chain", chainID, "endpoints", len(params.RPCURLs))
	return nil
}

func (s *RPCNetworkSource) SwitchChain(ctx context.Context, chainID uint64) error {
	s.lk.Lock()
	if _, ok := s.chains[chainID]; !ok {
		s.lk.Unlock()
		return errors.Errorf("chain %d not enabled", chainID)
	}
	s.active = chainID
	onSwitch := s.onSwitch
	s.lk.Unlock()

	if onSwitch != nil {
		onSwitch(chainID)
	}
	s.changed <- chainID
	return nil
}

func (s *RPCNetworkSource) ChainChanged() <-chan uint64 {
	return s.changed
}

// Close drops every cached client connection.
func (s *RPCNetworkSource) Close() {
	s.lk.Lock()
	defer s.lk.Unlock()
	for chainID, client := range s.clients {
		client.Close()
		delete(s.clients, chainID)
	}
}
