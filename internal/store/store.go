package store

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"auction-client/internal/domain"
	"auction-client/pkg/logger"
)

const defaultPageSize = 20

// Fetcher is the REST boundary the store loads through.
type Fetcher interface {
	ListAuctions(ctx context.Context, filter domain.AuctionFilter, page, pageSize int) (*domain.AuctionList, error)
	GetAuction(ctx context.Context, id string) (*domain.Auction, error)
	ListBids(ctx context.Context, auctionID string, page, pageSize int) (*domain.BidPage, error)
}

// BidPlacer places one correlated bid; the bidding channel satisfies it.
type BidPlacer interface {
	PlaceBid(ctx context.Context, amount float64, autoBidLimit *float64, userID string) (*domain.Bid, error)
}

// Flags carries independent loading indicators per operation category, so
// unrelated UI regions never block on each other's requests.
type Flags struct {
	List     bool
	Detail   bool
	Bids     bool
	PlaceBid bool
}

// Failures carries the last error per operation category.
type Failures struct {
	List     error
	Detail   error
	Bids     error
	PlaceBid error
}

// Snapshot is an immutable copy of the store state handed to subscribers.
type Snapshot struct {
	Auctions   []domain.Auction
	TotalCount int
	Page       int
	PageSize   int
	HasMore    bool
	Filter     domain.AuctionFilter
	CurrentID  string
	Current    *domain.Auction
	Bids       []domain.Bid
	Loading    Flags
	Failures   Failures
}

type cachedDetail struct {
	auction       domain.Auction
	lastFetchedAt time.Time
}

// Store is the reactive auction cache consumed by the UI layer. It is the
// single writer of its state; readers get synchronous snapshot copies and
// change notifications. Confirmed bids merge monotonically: the displayed
// current price never regresses from a stale or out-of-order confirmation.
type Store struct {
	fetcher   Fetcher
	placerFor func(auctionID string) BidPlacer
	ttl       time.Duration
	log       logger.Logger

	// Detail entries never expire out of the cache; freshness is judged
	// against lastFetchedAt so stale-but-present data survives failed
	// refetches.
	details *gocache.Cache

	mu         sync.Mutex
	auctions   []domain.Auction
	totalCount int
	page       int
	pageSize   int
	hasMore    bool
	filter     domain.AuctionFilter
	currentID  string
	bids       []domain.Bid
	loading    Flags
	failures   Failures
	inflight   map[string]bool // "list", "list-append"
	subs       map[int64]func(Snapshot)
	nextSubID  int64

	cronStop func()
}

// New builds a store. placerFor may be nil when bidding goes through
// ApplyBid only.
func New(fetcher Fetcher, placerFor func(auctionID string) BidPlacer, ttl time.Duration, log logger.Logger) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Store{
		fetcher:   fetcher,
		placerFor: placerFor,
		ttl:       ttl,
		log:       log,
		details:   gocache.New(gocache.NoExpiration, 0),
		pageSize:  defaultPageSize,
		inflight:  make(map[string]bool),
		subs:      make(map[int64]func(Snapshot)),
	}
}

// Subscribe registers a state change listener, called after every mutation
// with a snapshot copy. The disposer is a no-op on the second call.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// State returns a synchronous snapshot copy.
func (s *Store) State() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		Auctions:   append([]domain.Auction(nil), s.auctions...),
		TotalCount: s.totalCount,
		Page:       s.page,
		PageSize:   s.pageSize,
		HasMore:    s.hasMore,
		Filter:     s.filter,
		CurrentID:  s.currentID,
		Bids:       append([]domain.Bid(nil), s.bids...),
		Loading:    s.loading,
		Failures:   s.failures,
	}
	if s.currentID != "" {
		if entry, ok := s.details.Get(s.currentID); ok {
			detail := entry.(cachedDetail).auction
			snap.Current = &detail
		}
	}
	return snap
}

func (s *Store) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// LoadAuctions fetches the auction list for filter. With appendMode the next
// page is appended instead of replacing the list. A second call for the same
// append-mode while one is still in flight is refused rather than raced
// against the same state slice.
func (s *Store) LoadAuctions(ctx context.Context, filter domain.AuctionFilter, appendMode bool) error {
	key := "list"
	if appendMode {
		key = "list-append"
	}

	s.mu.Lock()
	if s.inflight[key] {
		s.mu.Unlock()
		return domain.ErrRequestInFlight
	}
	s.inflight[key] = true
	s.loading.List = true
	s.failures.List = nil
	page := 1
	if appendMode {
		page = s.page + 1
	}
	pageSize := s.pageSize
	s.mu.Unlock()
	s.notify()

	list, err := s.fetcher.ListAuctions(ctx, filter, page, pageSize)

	s.mu.Lock()
	delete(s.inflight, key)
	s.loading.List = false
	if err != nil {
		s.failures.List = err
		s.mu.Unlock()
		s.notify()
		return err
	}

	if appendMode {
		s.auctions = append(s.auctions, list.Results...)
	} else {
		s.auctions = list.Results
	}
	s.totalCount = list.Count
	s.page = page
	s.filter = filter
	s.hasMore = len(s.auctions) < list.Count
	s.mu.Unlock()
	s.notify()
	return nil
}

// LoadDetailOptions controls a detail load.
type LoadDetailOptions struct {
	IncludeBids  bool
	ForceRefresh bool
}

// LoadAuctionDetail serves from cache when the entry is fresher than the
// TTL, issuing no network call; bids are always treated as volatile and
// refreshed asynchronously even on a cache hit. A failed refetch keeps the
// stale entry in place so the UI can still show something.
func (s *Store) LoadAuctionDetail(ctx context.Context, id string, opts LoadDetailOptions) (*domain.Auction, error) {
	if entry, ok := s.details.Get(id); !opts.ForceRefresh && ok {
		cached := entry.(cachedDetail)
		if time.Since(cached.lastFetchedAt) < s.ttl {
			s.mu.Lock()
			s.currentID = id
			s.failures.Detail = nil
			s.mu.Unlock()
			s.notify()

			if opts.IncludeBids {
				go s.refreshBids(context.WithoutCancel(ctx), id)
			}
			detail := cached.auction
			return &detail, nil
		}
	}

	s.mu.Lock()
	s.loading.Detail = true
	s.failures.Detail = nil
	s.currentID = id
	s.mu.Unlock()
	s.notify()

	auction, err := s.fetcher.GetAuction(ctx, id)

	s.mu.Lock()
	s.loading.Detail = false
	if err != nil {
		// The stale cache entry, if any, stays untouched.
		s.failures.Detail = err
		s.mu.Unlock()
		s.notify()
		return nil, err
	}
	s.details.Set(id, cachedDetail{auction: *auction, lastFetchedAt: time.Now()}, gocache.NoExpiration)
	s.mu.Unlock()
	s.notify()

	if opts.IncludeBids {
		go s.refreshBids(context.WithoutCancel(ctx), id)
	}
	detail := *auction
	return &detail, nil
}

// LoadBids fetches the current auction's bid list synchronously.
func (s *Store) LoadBids(ctx context.Context, auctionID string, page, pageSize int) error {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if page <= 0 {
		page = 1
	}

	s.mu.Lock()
	s.loading.Bids = true
	s.failures.Bids = nil
	s.mu.Unlock()
	s.notify()

	bids, err := s.fetcher.ListBids(ctx, auctionID, page, pageSize)

	s.mu.Lock()
	s.loading.Bids = false
	if err != nil {
		s.failures.Bids = err
		s.mu.Unlock()
		s.notify()
		return err
	}
	if s.currentID == auctionID {
		s.bids = bids.Results
	}
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) refreshBids(ctx context.Context, auctionID string) {
	if err := s.LoadBids(ctx, auctionID, 1, defaultPageSize); err != nil {
		s.log.Warn("Bid refresh failed", "auction_id", auctionID, "error", err)
	}
}

// PlaceBid places a bid through the auction's bidding channel. There is no
// speculative price change while the request is in flight; the price moves
// only on confirmation, and only upward.
func (s *Store) PlaceBid(ctx context.Context, auctionID string, amount float64, autoBidLimit *float64, userID string) (*domain.Bid, error) {
	if s.placerFor == nil {
		return nil, domain.ErrNotConnected
	}
	placer := s.placerFor(auctionID)

	s.mu.Lock()
	s.loading.PlaceBid = true
	s.failures.PlaceBid = nil
	s.mu.Unlock()
	s.notify()

	bid, err := placer.PlaceBid(ctx, amount, autoBidLimit, userID)

	s.mu.Lock()
	s.loading.PlaceBid = false
	if err != nil {
		s.failures.PlaceBid = err
		s.mu.Unlock()
		s.notify()
		return nil, err
	}
	s.mu.Unlock()

	if bid.AuctionID == "" {
		bid.AuctionID = auctionID
	}
	s.ApplyBid(bid)
	return bid, nil
}

// ApplyBid merges one confirmed bid: prepended to the bid list when the bid
// is for the current auction (deduplicated by id), and folded into the
// auction's current price only when it exceeds the known value. Confirmations
// may arrive in any order across sockets and tabs; this monotonic rule is
// the only regression safeguard.
func (s *Store) ApplyBid(bid *domain.Bid) {
	if bid == nil {
		return
	}

	s.mu.Lock()
	if s.currentID == bid.AuctionID {
		known := false
		for _, b := range s.bids {
			if bid.ID != "" && b.ID == bid.ID {
				known = true
				break
			}
		}
		if !known {
			s.bids = append([]domain.Bid{*bid}, s.bids...)
		}
	}
	for i := range s.auctions {
		if s.auctions[i].ID == bid.AuctionID && bid.Amount > s.auctions[i].CurrentPrice {
			s.auctions[i].CurrentPrice = bid.Amount
			s.auctions[i].BidCount++
		}
	}
	// The cache merge is a check-then-set; it must stay inside the critical
	// section or two concurrent confirmations can interleave and let the
	// lower amount win. s.mu serializes every details write.
	if entry, ok := s.details.Get(bid.AuctionID); ok {
		cached := entry.(cachedDetail)
		if bid.Amount > cached.auction.CurrentPrice {
			cached.auction.CurrentPrice = bid.Amount
			cached.auction.BidCount++
			cached.auction.WinnerID = bid.Bidder
			s.details.Set(bid.AuctionID, cached, gocache.NoExpiration)
		}
	}
	s.mu.Unlock()
	s.notify()
}

// refreshDetail refetches one cache entry in place without touching the
// currently-viewed auction. Used by the background stale sweep.
func (s *Store) refreshDetail(ctx context.Context, id string) error {
	auction, err := s.fetcher.GetAuction(ctx, id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.details.Set(id, cachedDetail{auction: *auction, lastFetchedAt: time.Now()}, gocache.NoExpiration)
	s.mu.Unlock()
	s.notify()
	return nil
}

// CurrentPrice returns the known price for an auction, checking the detail
// cache first and falling back to the list row.
func (s *Store) CurrentPrice(auctionID string) (float64, bool) {
	if entry, ok := s.details.Get(auctionID); ok {
		return entry.(cachedDetail).auction.CurrentPrice, true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.auctions {
		if a.ID == auctionID {
			return a.CurrentPrice, true
		}
	}
	return 0, false
}

// SetFilterFromURL parses a navigable URL query back into the filter shape
// and reloads only when at least one parsed value actually differs, so a
// no-op URL write cannot start a reload loop.
func (s *Store) SetFilterFromURL(ctx context.Context, rawQuery string) (bool, error) {
	parsed := domain.ParseFilterQuery(rawQuery)

	s.mu.Lock()
	same := parsed == s.filter
	s.mu.Unlock()
	if same {
		return false, nil
	}
	return true, s.LoadAuctions(ctx, parsed, false)
}

// FilterQuery encodes the current filter for the URL bar.
func (s *Store) FilterQuery() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter.Values().Encode()
}

// Invalidate drops one detail cache entry, forcing the next load to fetch.
func (s *Store) Invalidate(id string) {
	s.details.Delete(id)
}
