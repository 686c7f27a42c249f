package domain

import (
	"time"
)

type AuctionStatus string

const (
	AuctionPending   AuctionStatus = "PENDING"
	AuctionActive    AuctionStatus = "ACTIVE"
	AuctionExtended  AuctionStatus = "EXTENDED"
	AuctionEnded     AuctionStatus = "ENDED"
	AuctionCancelled AuctionStatus = "CANCELLED"
)

type Auction struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Address       string        `json:"address"`
	City          string        `json:"city"`
	StartingPrice float64       `json:"starting_price"`
	CurrentPrice  float64       `json:"current_price"`
	MinIncrement  float64       `json:"min_increment"`
	BidCount      int           `json:"bid_count"`
	WinnerID      string        `json:"winner_id,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Status        AuctionStatus `json:"status"`
	WatcherCount  int           `json:"watcher_count"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Bid is a server-confirmed bid. A bid that is still awaiting confirmation
// never appears as a Bid value; it exists only as the in-flight correlation
// state of the call that placed it, so pending and confirmed bids cannot be
// mixed up in caches or UI state.
type Bid struct {
	ID           string    `json:"id"`
	AuctionID    string    `json:"auction_id"`
	Amount       float64   `json:"amount"`
	Bidder       string    `json:"bidder"`
	AutoBidLimit *float64  `json:"auto_bid_limit,omitempty"`
	ClientID     string    `json:"client_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// AuctionList is the REST list response shape.
type AuctionList struct {
	Count   int       `json:"count"`
	Results []Auction `json:"results"`
}

// BidPage is one page of an auction's bid history.
type BidPage struct {
	Count    int   `json:"count"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Results  []Bid `json:"results"`
}

type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	AuctionID string    `json:"auction_id,omitempty"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	ClientID  string    `json:"client_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
