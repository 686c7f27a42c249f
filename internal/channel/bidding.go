package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/tidwall/gjson"

	"auction-client/internal/domain"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

// UserSource resolves the current session user when no explicit user id is
// passed to PlaceBid.
type UserSource interface {
	UserID() string
}

// BidEvent is one update from an auction's bid stream.
type BidEvent struct {
	Type     string       `json:"type"`
	Bid      *domain.Bid  `json:"bid,omitempty"`
	Bids     []domain.Bid `json:"bids,omitempty"`
	Page     int          `json:"page,omitempty"`
	PageSize int          `json:"page_size,omitempty"`
	Count    int          `json:"count,omitempty"`
}

var bidEventTypes = []string{
	domain.TypeInitialState,
	domain.TypeNewBid,
	domain.TypeBidHistory,
	domain.TypeRecentBids,
	domain.TypeOutbid,
}

// BiddingChannel is the typed protocol for placing bids on one auction and
// receiving confirmations, rejections, and bid history.
type BiddingChannel struct {
	auctionID string
	path      string
	registry  *ws.Registry
	sock      *ws.Socket
	session   UserSource
	timeout   time.Duration
	log       logger.Logger
}

func OpenBidding(registry *ws.Registry, auctionID string, session UserSource, timeout time.Duration, log logger.Logger) *BiddingChannel {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	path := fmt.Sprintf("/ws/auctions/%s/bids", auctionID)
	return &BiddingChannel{
		auctionID: auctionID,
		path:      path,
		registry:  registry,
		sock:      registry.GetOrCreate(path),
		session:   session,
		timeout:   timeout,
		log:       log,
	}
}

func (c *BiddingChannel) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx)
}

func (c *BiddingChannel) Close() {
	c.registry.Remove(c.path)
}

func (c *BiddingChannel) Socket() *ws.Socket {
	return c.sock
}

// Subscribe aggregates the bid stream into one callback.
func (c *BiddingChannel) Subscribe(h func(BidEvent)) func() {
	return subscribeTypes(c.sock, bidEventTypes, func(data []byte) {
		var ev BidEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode bid event", "auction_id", c.auctionID, "error", err)
			return
		}
		h(ev)
	})
}

// PlaceBid sends a correlated place_bid request and waits for its outcome:
// a new_bid confirmation carrying the same client id, a server error scoped
// to that client id, or the timeout, whichever comes first. The two frame
// listeners are always unregistered before returning, so a late reply for an
// abandoned call has no observable effect.
func (c *BiddingChannel) PlaceBid(ctx context.Context, amount float64, autoBidLimit *float64, userID string) (*domain.Bid, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return nil, fmt.Errorf("%w: bid amount must be a positive number", domain.ErrValidation)
	}
	if userID == "" && c.session != nil {
		userID = c.session.UserID()
	}
	if userID == "" {
		return nil, domain.ErrMissingUserID
	}

	clientID := uuid.NewString()
	confirmCh := make(chan *domain.Bid, 1)
	errCh := make(chan error, 1)
	closedCh := make(chan struct{}, 1)

	// Tearing the channel down must reject the in-flight await immediately,
	// not leave it waiting out the full timeout.
	offClose := c.sock.On(ws.EventClose, func(ws.EventInfo) {
		if !c.sock.Closed() {
			return
		}
		select {
		case closedCh <- struct{}{}:
		default:
		}
	})
	defer offClose()

	offBid := c.sock.OnMessage(domain.TypeNewBid, func(data []byte) {
		bid := decodeBidFrame(data)
		if bid == nil || bid.ClientID != clientID {
			return
		}
		if bid.AuctionID == "" {
			bid.AuctionID = c.auctionID
		}
		select {
		case confirmCh <- bid:
		default:
		}
	})
	defer offBid()

	offErr := c.sock.OnMessage(domain.TypeError, func(data []byte) {
		if gjson.GetBytes(data, "client_id").String() != clientID {
			return
		}
		rejection := &domain.BidRejectedError{
			ClientID: clientID,
			Message:  gjson.GetBytes(data, "message").String(),
		}
		select {
		case errCh <- rejection:
		default:
		}
	})
	defer offErr()

	msg := domain.PlaceBidMessage{
		Action:       domain.ActionPlaceBid,
		Amount:       amount,
		AutoBidLimit: autoBidLimit,
		UserID:       userID,
		ClientID:     clientID,
	}
	if err := c.sock.Send(ctx, msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return nil, err
	case bid := <-confirmCh:
		// A rejection that arrived in the same instant wins, keeping the
		// outcome deterministic under out-of-order delivery.
		select {
		case err := <-errCh:
			return nil, err
		default:
			return bid, nil
		}
	case <-closedCh:
		return nil, domain.ErrSocketClosed
	case <-timer.C:
		return nil, fmt.Errorf("%w: no bid confirmation within %s", domain.ErrTimeout, c.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RecentBids requests the latest bids. The reply arrives through the
// subscribed stream.
func (c *BiddingChannel) RecentBids(ctx context.Context, limit int) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionGetRecentBids, Limit: limit})
}

// BidHistory requests one page of bid history via the subscribed stream.
func (c *BiddingChannel) BidHistory(ctx context.Context, page, pageSize int) error {
	return c.sock.Send(ctx, domain.ActionMessage{Action: domain.ActionGetBidHistory, Page: page, PageSize: pageSize})
}

// decodeBidFrame pulls the bid object out of a new_bid frame. The server is
// loose about number-vs-string for amounts, so the field goes through cast.
func decodeBidFrame(data []byte) *domain.Bid {
	b := gjson.GetBytes(data, "bid")
	if !b.Exists() {
		return nil
	}
	amount, err := cast.ToFloat64E(b.Get("amount").Value())
	if err != nil {
		return nil
	}

	bid := &domain.Bid{
		ID:        b.Get("id").String(),
		AuctionID: b.Get("auction_id").String(),
		Amount:    amount,
		Bidder:    b.Get("bidder").String(),
		ClientID:  b.Get("client_id").String(),
	}
	if raw := b.Get("auto_bid_limit"); raw.Exists() && raw.Type != gjson.Null {
		if limit, err := cast.ToFloat64E(raw.Value()); err == nil {
			bid.AutoBidLimit = &limit
		}
	}
	if ts := b.Get("timestamp").String(); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			bid.Timestamp = t
		}
	}
	return bid
}
