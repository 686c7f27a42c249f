package domain

// Server -> client frame types. Every inbound frame is a JSON object with a
// discriminating "type" field.
const (
	TypeInitialState    = "initial_state"
	TypeAuctionState    = "auction_state"
	TypeStatusUpdate    = "status_update"
	TypePriceUpdate     = "price_update"
	TypeTimeUpdate      = "time_update"
	TypeExtensionUpdate = "extension_update"
	TypeAuctionUpdate   = "auction_update"
	TypeWatchStatus     = "watch_status"

	TypeNewBid     = "new_bid"
	TypeBidHistory = "bid_history"
	TypeRecentBids = "recent_bids"
	TypeOutbid     = "outbid"

	TypeNotification = "notification"
	TypeUnreadCount  = "unread_count"
	TypeMarkReadAck  = "mark_read_ack"

	TypeDashboardSnapshot = "dashboard_snapshot"
	TypeKPIUpdate         = "kpi_update"
	TypeWatchlistUpdate   = "watchlist_update"

	TypeChatMessage = "message"
	TypeChatHistory = "message_history"
	TypeTyping      = "typing"
	TypeReadReceipt = "read_receipt"

	// Reserved types, never surfaced to application handlers.
	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

// Client -> server actions.
const (
	ActionPlaceBid       = "place_bid"
	ActionGetState       = "get_state"
	ActionWatch          = "watch"
	ActionUnwatch        = "unwatch"
	ActionGetWatchStatus = "get_watch_status"
	ActionGetRecentBids  = "get_recent_bids"
	ActionGetBidHistory  = "get_bid_history"
	ActionSendMessage    = "send_message"
	ActionMarkRead       = "mark_read"
	ActionTyping         = "typing"
	ActionGetHistory     = "get_history"
)

// PlaceBidMessage is the bid placement wire contract.
type PlaceBidMessage struct {
	Action       string   `json:"action"`
	Amount       float64  `json:"amount"`
	AutoBidLimit *float64 `json:"auto_bid_limit"`
	UserID       string   `json:"user_id"`
	ClientID     string   `json:"client_id"`
}

// ActionMessage is a fire-and-forget request frame. The server answers via
// the subscribed stream, not with a correlated reply.
type ActionMessage struct {
	Action   string `json:"action"`
	Limit    int    `json:"limit,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// ErrorMessage is the server failure frame, optionally scoped to one
// correlated request via ClientID.
type ErrorMessage struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id,omitempty"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
}
