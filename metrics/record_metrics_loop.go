package metrics

import (
	"context"
	"time"

	"go.opencensus.io/tag"
)

// Sampler exposes the gauges the record loop polls.
type Sampler interface {
	ConnectionCounts() map[string]int64
	PendingRequestCount() int
	SubscriptionCount() int
}

func RecordMetricsLoop(ctx context.Context, sampler Sampler) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			recordConnectionInfo(ctx, sampler)
			RequestPendingNum.Set(ctx, int64(sampler.PendingRequestCount()))
			SubscriptionNum.Set(ctx, int64(sampler.SubscriptionCount()))
		case <-ctx.Done():
			log.Infof("context done, stop record metrics")
			return
		}
	}
}

func recordConnectionInfo(ctx context.Context, sampler Sampler) {
	for kind, num := range sampler.ConnectionCounts() {
		ctx, _ := tag.New(ctx, tag.Upsert(KindKey, kind))
		ConnectionNum.Set(ctx, num)
	}
}
