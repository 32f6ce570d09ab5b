package metrics

import (
	"time"

	"github.com/ipfs-force-community/metrics"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Global Tags
var (
	OriginKey, _ = tag.NewKey("origin")
	MethodKey, _ = tag.NewKey("method")
	ChainKey, _  = tag.NewKey("chain")
	KindKey, _   = tag.NewKey("kind")
)

// Distribution
var defaultMillisecondsDistribution = view.Distribution(0.01, 0.05, 0.1, 0.3, 0.6, 0.8, 1, 2, 3, 4, 5, 6, 8, 10, 13, 16, 20, 25, 30, 40, 50, 65, 80, 100, 130, 160, 200, 250, 300, 400, 500, 650, 800, 1000, 2000, 3000, 4000, 5000, 7500, 10000, 20000, 50000, 100000)

var (
	// connections
	ConnectionNum        = metrics.NewInt64("connection/num", "Open provider connections", stats.UnitDimensionless, KindKey)
	ConnectionRegister   = stats.Int64("connection/register", "Connection register", stats.UnitDimensionless)
	ConnectionUnregister = stats.Int64("connection/unregister", "Connection unregister", stats.UnitDimensionless)

	// networks
	NetworkSwitched = stats.Int64("network/switched", "Active chain switches applied", stats.UnitDimensionless)

	// requests
	RequestPendingNum = metrics.NewInt64("request/pending_num", "Pending confirmable requests", stats.UnitDimensionless)
	RequestSubmitted  = stats.Int64("request/submitted", "Confirmable request submitted", stats.UnitDimensionless)
	RequestRejected   = stats.Int64("request/rejected", "Confirmable request rejected", stats.UnitDimensionless)
	RequestConflicted = stats.Int64("request/conflicted", "Submit refused by the conflict rule", stats.UnitDimensionless)

	// subscriptions
	SubscriptionNum = metrics.NewInt64("subscription/num", "Active eth_subscribe subscriptions", stats.UnitDimensionless)

	// method call
	ProviderCall = stats.Float64("provider_call", "Provider method dispatch spent time", stats.UnitMilliseconds)
	WalletSign   = stats.Float64("wallet_sign", "Signing request spent time", stats.UnitMilliseconds)

	ApiState = metrics.NewInt64("api/state", "api service state. 0: down, 1: up", "")
)

var (
	connectionRegisterView = &view.View{
		Measure:     ConnectionRegister,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KindKey},
	}
	connectionUnregisterView = &view.View{
		Measure:     ConnectionUnregister,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{KindKey},
	}
	networkSwitchedView = &view.View{
		Measure:     NetworkSwitched,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{ChainKey},
	}
	requestSubmittedView = &view.View{
		Measure:     RequestSubmitted,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey},
	}
	requestRejectedView = &view.View{
		Measure:     RequestRejected,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey},
	}
	requestConflictedView = &view.View{
		Measure:     RequestConflicted,
		Aggregation: view.Count(),
		TagKeys:     []tag.Key{OriginKey, MethodKey},
	}
	providerCallView = &view.View{
		Measure:     ProviderCall,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{MethodKey},
	}
	walletSignView = &view.View{
		Measure:     WalletSign,
		Aggregation: defaultMillisecondsDistribution,
		TagKeys:     []tag.Key{OriginKey},
	}
)

var views = []*view.View{
	connectionRegisterView,
	connectionUnregisterView,
	networkSwitchedView,
	requestSubmittedView,
	requestRejectedView,
	requestConflictedView,
	providerCallView,
	walletSignView,
}

func SinceInMilliseconds(startTime time.Time) float64 {
	return float64(time.Since(startTime).Nanoseconds()) / 1e6
}
