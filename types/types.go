package types

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
)

// ConnectionID identifies one page-to-wallet port. It is distinct from the
// web origin: multiple tabs of the same origin get distinct connection ids.
type ConnectionID = uuid.UUID

func NewConnectionID() ConnectionID {
	return uuid.New()
}

type ConnectionKind int

const (
	// ConnPage is a provider port opened by a web page.
	ConnPage ConnectionKind = iota
	// ConnUI is a confirmation/popup window of the wallet itself.
	ConnUI
	// ConnOnboarding is the onboarding UI, exempt from the single active
	// UI window policy.
	ConnOnboarding
)

func (k ConnectionKind) String() string {
	switch k {
	case ConnPage:
		return "page"
	case ConnUI:
		return "ui"
	case ConnOnboarding:
		return "onboarding"
	default:
		return "unknown"
	}
}

// SiteMetadata is display metadata of a connected site, shown on
// confirmation prompts.
type SiteMetadata struct {
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// PortInfo carries everything the port handshake knows about a new
// connection.
type PortInfo struct {
	URL      string
	Origin   string
	TabID    int64
	WindowID int64
	Site     SiteMetadata
}

// ProviderInstance is one connected port. Created on port connect,
// destroyed on port disconnect; owned by the instance registry.
type ProviderInstance struct {
	ID         ConnectionID
	Kind       ConnectionKind
	Origin     string
	TabID      int64
	WindowID   int64
	Site       SiteMetadata
	Outbound   chan *Notification
	CreateTime time.Time
}

func NewProviderInstance(kind ConnectionKind, info PortInfo, queueSize int) *ProviderInstance {
	return &ProviderInstance{
		ID:         NewConnectionID(),
		Kind:       kind,
		Origin:     info.Origin,
		TabID:      info.TabID,
		WindowID:   info.WindowID,
		Site:       info.Site,
		Outbound:   make(chan *Notification, queueSize),
		CreateTime: time.Now(),
	}
}

// Provider event names pushed to pages. The set is closed; payload shapes
// follow EIP-1193 exactly.
const (
	EventAccountsChanged = "accountsChanged"
	EventChainChanged    = "chainChanged"
	EventConnect         = "connect"
	EventDisconnect      = "disconnect"
	EventMessage         = "message"
)

// Notification is one pushed provider event with its payload already
// marshaled into the wire shape.
type Notification struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func mustMarshal(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

type ChainChangedPayload struct {
	ChainID        hexutil.Uint64 `json:"chainId"`
	NetworkVersion string         `json:"networkVersion"`
}

type ConnectPayload struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// SubscriptionResult is the eth_subscription message payload.
type SubscriptionResult struct {
	Type string `json:"type"`
	Data struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"data"`
}

func AccountsChangedNotification(accounts []common.Address) *Notification {
	if accounts == nil {
		accounts = []common.Address{}
	}
	return &Notification{Event: EventAccountsChanged, Payload: mustMarshal(accounts)}
}

func ChainChangedNotification(chainID uint64, networkVersion string) *Notification {
	return &Notification{Event: EventChainChanged, Payload: mustMarshal(ChainChangedPayload{
		ChainID:        hexutil.Uint64(chainID),
		NetworkVersion: networkVersion,
	})}
}

func ConnectNotification(chainID uint64) *Notification {
	return &Notification{Event: EventConnect, Payload: mustMarshal(ConnectPayload{ChainID: hexutil.Uint64(chainID)})}
}

func DisconnectNotification() *Notification {
	return &Notification{Event: EventDisconnect}
}

func MessageNotification(subscriptionID string, result json.RawMessage) *Notification {
	payload := SubscriptionResult{Type: "eth_subscription"}
	payload.Data.Subscription = subscriptionID
	payload.Data.Result = result
	return &Notification{Event: EventMessage, Payload: mustMarshal(payload)}
}

// BlockTick is one observation of the block-tick source: the previously and
// newly observed head of one chain. Curr-Prev may be greater than one, the
// delivery path has to tolerate gaps.
type BlockTick struct {
	ChainID uint64
	Prev    uint64
	Curr    uint64
}

// Token is a fungible token watched through wallet_watchAsset.
type Token struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Image    string         `json:"image,omitempty"`
}

// ExternalSignEvent is an out-of-band signing payload emitted by a
// QR-style hardware keyring. It is relayed to the UI verbatim.
type ExternalSignEvent struct {
	RequestID uuid.UUID       `json:"requestId"`
	Payload   json.RawMessage `json:"payload"`
}
