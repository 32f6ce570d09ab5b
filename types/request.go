package types

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/google/uuid"
)

type RequestType int

const (
	RequestPermission RequestType = iota
	RequestAddNetwork
	RequestSwitchNetwork
	RequestWatchAsset
	RequestSignMessage
	RequestSignTypedData
)

func (t RequestType) String() string {
	switch t {
	case RequestPermission:
		return "permission"
	case RequestAddNetwork:
		return "add_network"
	case RequestSwitchNetwork:
		return "switch_network"
	case RequestWatchAsset:
		return "watch_asset"
	case RequestSignMessage:
		return "sign_message"
	case RequestSignTypedData:
		return "sign_typed_data"
	default:
		return "unknown"
	}
}

type RequestStatus int

const (
	StatusPending RequestStatus = iota
	StatusApproved
	StatusSigned
	StatusRejected
	StatusFailed
)

func (s RequestStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusApproved:
		return "approved"
	case StatusSigned:
		return "signed"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// AddChainParams is the EIP-3085 parameter object, already validated by the
// time it reaches a ledger entry.
type AddChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
	IconURLs          []string `json:"iconUrls,omitempty"`
	NativeCurrency    struct {
		Name     string `json:"name"`
		Symbol   string `json:"symbol"`
		Decimals uint   `json:"decimals"`
	} `json:"nativeCurrency"`
}

type SwitchChainParams struct {
	ChainID uint64 `json:"chainId"`
}

// WatchAssetParams is the validated EIP-747 request. AlreadyWatched tells
// the UI whether accepting means update or add; the mediator never decides
// that itself.
type WatchAssetParams struct {
	Token          Token `json:"token"`
	AlreadyWatched bool  `json:"alreadyWatched"`
}

type SignKind int

const (
	SignKindRaw SignKind = iota
	SignKindPersonal
	SignKindTypedDataV1
	SignKindTypedDataV3
	SignKindTypedDataV4
)

func (k SignKind) String() string {
	switch k {
	case SignKindRaw:
		return "eth_sign"
	case SignKindPersonal:
		return "personal_sign"
	case SignKindTypedDataV1:
		return "typed_data_v1"
	case SignKindTypedDataV3:
		return "typed_data_v3"
	case SignKindTypedDataV4:
		return "typed_data_v4"
	default:
		return "unknown"
	}
}

// SignParams is the normalized {address, data} shape shared by every
// signing method regardless of its positional parameter order.
type SignParams struct {
	Address   common.Address     `json:"address"`
	Data      []byte             `json:"data,omitempty"`
	TypedData apitypes.TypedData `json:"typedData,omitempty"`
	Kind      SignKind           `json:"kind"`
}

// PendingRequest is one outstanding asynchronous request awaiting a user
// decision.
type PendingRequest struct {
	ID          uuid.UUID
	Type        RequestType
	Params      interface{}
	Origin      string
	Connection  ConnectionID
	Site        SiteMetadata
	CreateTime  time.Time
	Status      RequestStatus
	Err         *Error
	ConfirmData json.RawMessage

	// decision carries the UI verdict back to the submitter. Buffered so a
	// resolve never blocks on a submitter that already gave up.
	decision chan *Decision
	// rejectedFlag is set when the request is rejected after approval,
	// while a signing operation is already in flight.
	rejectedFlag bool
	// abandoned is set when the submitter returned before a decision came.
	// A later resolve settles the entry in place instead of parking a
	// decision nobody will complete.
	abandoned bool
}

// Decision is what Submit returns once the UI resolved the request. The
// completion callback is the second phase of the handshake: the submitter
// invokes it once its own side effect finished, and only that removes the
// ledger entry.
type Decision struct {
	Accepted       bool
	RequestID      uuid.UUID
	ConfirmOptions json.RawMessage
	Complete       func(err error)
}

func NewPendingRequest(typ RequestType, params interface{}, origin string, conn ConnectionID, site SiteMetadata) *PendingRequest {
	return &PendingRequest{
		ID:         uuid.New(),
		Type:       typ,
		Params:     params,
		Origin:     origin,
		Connection: conn,
		Site:       site,
		CreateTime: time.Now(),
		Status:     StatusPending,
		decision:   make(chan *Decision, 1),
	}
}

// ConflictKey returns the (origin, conflict-class) key enforcing the
// at-most-one-pending rule, or ok=false for request types that may stack.
// Add-network and switch-network share one class; watch-asset is keyed per
// token address.
func (r *PendingRequest) ConflictKey() (string, bool) {
	switch r.Type {
	case RequestPermission:
		return r.Origin + "|permission", true
	case RequestAddNetwork, RequestSwitchNetwork:
		return r.Origin + "|network", true
	case RequestWatchAsset:
		params, ok := r.Params.(*WatchAssetParams)
		if !ok {
			return r.Origin + "|asset", true
		}
		return r.Origin + "|asset|" + strings.ToLower(params.Token.Address.Hex()), true
	default:
		return "", false
	}
}
