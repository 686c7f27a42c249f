package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-client/internal/domain"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

// AuctionEvent is one update from an auction's state stream. Type tells
// which of the optional fields carry data.
type AuctionEvent struct {
	Type             string               `json:"type"`
	Auction          *domain.Auction      `json:"auction,omitempty"`
	Status           domain.AuctionStatus `json:"status,omitempty"`
	CurrentPrice     float64              `json:"current_price,omitempty"`
	BidCount         int                  `json:"bid_count,omitempty"`
	EndTime          *time.Time           `json:"end_time,omitempty"`
	Extended         bool                 `json:"extended,omitempty"`
	RemainingSeconds int64                `json:"remaining_seconds,omitempty"`
	Watching         bool                 `json:"watching,omitempty"`
}

var auctionEventTypes = []string{
	domain.TypeInitialState,
	domain.TypeAuctionState,
	domain.TypeStatusUpdate,
	domain.TypePriceUpdate,
	domain.TypeTimeUpdate,
	domain.TypeExtensionUpdate,
	domain.TypeAuctionUpdate,
	domain.TypeWatchStatus,
}

// AuctionChannel is the typed protocol for one auction's live state stream.
// It borrows its socket from the registry; other channels and components may
// share the same socket.
type AuctionChannel struct {
	auctionID string
	path      string
	registry  *ws.Registry
	sock      *ws.Socket
	log       logger.Logger
}

func OpenAuction(registry *ws.Registry, auctionID string, log logger.Logger) *AuctionChannel {
	path := fmt.Sprintf("/ws/auctions/%s", auctionID)
	return &AuctionChannel{
		auctionID: auctionID,
		path:      path,
		registry:  registry,
		sock:      registry.GetOrCreate(path),
		log:       log,
	}
}

func (c *AuctionChannel) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx)
}

// Close detaches the channel's endpoint through the registry. The socket is
// shared state, so teardown must go through the registry rather than closing
// the socket directly.
func (c *AuctionChannel) Close() {
	c.registry.Remove(c.path)
}

func (c *AuctionChannel) Socket() *ws.Socket {
	return c.sock
}

// Subscribe aggregates the whole auction state stream into one callback.
func (c *AuctionChannel) Subscribe(h func(AuctionEvent)) func() {
	return subscribeTypes(c.sock, auctionEventTypes, func(data []byte) {
		var ev AuctionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode auction event", "auction_id", c.auctionID, "error", err)
			return
		}
		h(ev)
	})
}

// GetState requests a full state snapshot. The reply arrives through the
// subscribed stream, not as a return value.
func (c *AuctionChannel) GetState(ctx context.Context) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionGetState})
}

func (c *AuctionChannel) Watch(ctx context.Context) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionWatch})
}

func (c *AuctionChannel) Unwatch(ctx context.Context) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionUnwatch})
}

func (c *AuctionChannel) GetWatchStatus(ctx context.Context) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionGetWatchStatus})
}
