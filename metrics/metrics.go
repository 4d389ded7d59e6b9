// Package metrics defines the opencensus measures and views the routing
// core records.
package metrics

import (
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

var defaultMillisecondsDistribution = view.Distribution(0.1, 0.3, 0.6, 1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000)

// Keys
var (
	KeyMessageType, _ = tag.NewKey("message_type")
	KeyPeerID, _      = tag.NewKey("peer_id")
)

// Measures
var (
	SentMessages     = stats.Int64("overlaynet.io/routing/sent_messages", "Total messages handed to the transport", stats.UnitDimensionless)
	SendRetries      = stats.Int64("overlaynet.io/routing/send_retries", "Hop reselections after a transport failure", stats.UnitDimensionless)
	DroppedMessages  = stats.Int64("overlaynet.io/routing/dropped_messages", "Messages dropped after exhausting retries or hop budget", stats.UnitDimensionless)
	ReceivedMessages = stats.Int64("overlaynet.io/routing/received_messages", "Total messages received from the transport", stats.UnitDimensionless)
	SendLatency      = stats.Float64("overlaynet.io/routing/send_latency_ms", "Time from hop selection to transport outcome", stats.UnitMilliseconds)
	RoutingTableSize = stats.Int64("overlaynet.io/routing/table_size", "Current routing table size", stats.UnitDimensionless)
)

// Views
var (
	SentMessagesView = &view.View{
		Measure:     SentMessages,
		TagKeys:     []tag.Key{KeyMessageType},
		Aggregation: view.Count(),
	}
	SendRetriesView = &view.View{
		Measure:     SendRetries,
		Aggregation: view.Count(),
	}
	DroppedMessagesView = &view.View{
		Measure:     DroppedMessages,
		TagKeys:     []tag.Key{KeyMessageType},
		Aggregation: view.Count(),
	}
	ReceivedMessagesView = &view.View{
		Measure:     ReceivedMessages,
		TagKeys:     []tag.Key{KeyMessageType, KeyPeerID},
		Aggregation: view.Count(),
	}
	SendLatencyView = &view.View{
		Measure:     SendLatency,
		Aggregation: defaultMillisecondsDistribution,
	}
	RoutingTableSizeView = &view.View{
		Measure:     RoutingTableSize,
		Aggregation: view.LastValue(),
	}
)

// DefaultViews is every view this package defines, for callers that want to
// register them all.
var DefaultViews = []*view.View{
	SentMessagesView,
	SendRetriesView,
	DroppedMessagesView,
	ReceivedMessagesView,
	SendLatencyView,
	RoutingTableSizeView,
}
