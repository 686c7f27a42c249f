package store_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-client/internal/domain"
	"auction-client/internal/store"
	"auction-client/pkg/logger"
)

// fakeFetcher counts calls and serves canned data, with per-method failure
// injection.
type fakeFetcher struct {
	mu          sync.Mutex
	listCalls   int
	detailCalls int
	bidCalls    int

	auctions  map[string]domain.Auction
	bids      map[string][]domain.Bid
	listErr   error
	detailErr error
	blockList chan struct{} // when set, ListAuctions waits on it
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string][]domain.Bid),
	}
}

func (f *fakeFetcher) ListAuctions(ctx context.Context, filter domain.AuctionFilter, page, pageSize int) (*domain.AuctionList, error) {
	f.mu.Lock()
	f.listCalls++
	block := f.blockList
	err := f.listErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	var results []domain.Auction
	for _, a := range f.auctions {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		results = append(results, a)
	}
	return &domain.AuctionList{Count: len(results), Results: results}, nil
}

func (f *fakeFetcher) GetAuction(ctx context.Context, id string) (*domain.Auction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	a, ok := f.auctions[id]
	if !ok {
		return nil, &domain.APIError{Status: 404, Message: "auction not found"}
	}
	return &a, nil
}

func (f *fakeFetcher) ListBids(ctx context.Context, auctionID string, page, pageSize int) (*domain.BidPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bidCalls++
	bids := f.bids[auctionID]
	return &domain.BidPage{Count: len(bids), Page: page, PageSize: pageSize, Results: bids}, nil
}

func (f *fakeFetcher) counts() (int, int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.detailCalls, f.bidCalls
}

func sampleAuction(id string, price float64) domain.Auction {
	return domain.Auction{
		ID:           id,
		Title:        "3BR testhouse",
		City:         "Rotterdam",
		CurrentPrice: price,
		Status:       domain.AuctionActive,
	}
}

func TestLoadAuctionDetailCachesWithinTTL(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())

	first, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)
	assert.Equal(t, 200000.0, first.CurrentPrice)

	// Second view within the freshness window: zero network traffic.
	second, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, detailCalls, _ := f.counts()
	assert.Equal(t, 1, detailCalls)
}

func TestLoadAuctionDetailRefetchesPastTTL(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, 30*time.Millisecond, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	_, detailCalls, _ := f.counts()
	assert.Equal(t, 2, detailCalls)
}

func TestForceRefreshBypassesCache(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)
	_, err = s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{ForceRefresh: true})
	require.NoError(t, err)

	_, detailCalls, _ := f.counts()
	assert.Equal(t, 2, detailCalls)
}

func TestFailedRefetchKeepsStaleEntry(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, 20*time.Millisecond, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)
	f.mu.Lock()
	f.detailErr = errors.New("backend down")
	f.mu.Unlock()

	_, err = s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.Error(t, err)

	// The stale snapshot is still served to the UI.
	snap := s.State()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "a1", snap.Current.ID)
	assert.Equal(t, 200000.0, snap.Current.CurrentPrice)
	assert.ErrorContains(t, snap.Failures.Detail, "backend down")
}

func TestApplyBidIsMonotonic(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())

	require.NoError(t, s.LoadAuctions(context.Background(), domain.AuctionFilter{}, false))
	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	// Confirmations replayed in shuffled order: the price only climbs.
	amounts := []float64{201000, 205000, 202000, 210000, 203000}
	rand.Shuffle(len(amounts), func(i, j int) { amounts[i], amounts[j] = amounts[j], amounts[i] })
	for i, amount := range amounts {
		s.ApplyBid(&domain.Bid{
			ID:        fmt.Sprintf("b%d", i),
			AuctionID: "a1",
			Amount:    amount,
			Bidder:    "u1",
		})
	}

	price, ok := s.CurrentPrice("a1")
	require.True(t, ok)
	assert.Equal(t, 210000.0, price)

	snap := s.State()
	require.NotNil(t, snap.Current)
	assert.Equal(t, 210000.0, snap.Current.CurrentPrice)
	for _, a := range snap.Auctions {
		if a.ID == "a1" {
			assert.Equal(t, 210000.0, a.CurrentPrice)
		}
	}
}

func TestApplyBidConcurrentConfirmationsNeverRegress(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 0)
	s := store.New(f, nil, time.Minute, logger.NewNop())
	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	// Confirmations land concurrently across sockets and tabs; whatever the
	// interleaving, the highest amount must win the cached detail price.
	for iter := 0; iter < 20; iter++ {
		base := iter * 50
		var wg sync.WaitGroup
		for i := 1; i <= 50; i++ {
			wg.Add(1)
			go func(amount float64, n int) {
				defer wg.Done()
				s.ApplyBid(&domain.Bid{
					ID:        fmt.Sprintf("iter%d-b%d", iter, n),
					AuctionID: "a1",
					Amount:    amount,
					Bidder:    "u1",
				})
			}(float64(base+i), i)
		}
		wg.Wait()

		price, ok := s.CurrentPrice("a1")
		require.True(t, ok)
		require.Equal(t, float64(base+50), price)
	}
}

func TestApplyBidDeduplicatesByID(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())
	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	bid := &domain.Bid{ID: "b1", AuctionID: "a1", Amount: 201000, Bidder: "u1"}
	s.ApplyBid(bid)
	s.ApplyBid(bid) // same confirmation via a second socket

	snap := s.State()
	assert.Len(t, snap.Bids, 1)
}

func TestConcurrentListLoadsAreRefused(t *testing.T) {
	f := newFakeFetcher()
	f.blockList = make(chan struct{})
	s := store.New(f, nil, time.Minute, logger.NewNop())

	done := make(chan error, 1)
	go func() {
		done <- s.LoadAuctions(context.Background(), domain.AuctionFilter{}, false)
	}()

	// Wait until the first load is inside the fetcher.
	deadline := time.Now().Add(time.Second)
	for {
		if calls, _, _ := f.counts(); calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first load never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	err := s.LoadAuctions(context.Background(), domain.AuctionFilter{}, false)
	assert.ErrorIs(t, err, domain.ErrRequestInFlight)

	close(f.blockList)
	require.NoError(t, <-done)
}

func TestLoadAuctionsPagination(t *testing.T) {
	f := newFakeFetcher()
	s := store.New(f, nil, time.Minute, logger.NewNop())

	// A fetcher that reports more results than one page carries.
	f.mu.Lock()
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		f.auctions[id] = sampleAuction(id, 100000)
	}
	f.mu.Unlock()

	require.NoError(t, s.LoadAuctions(context.Background(), domain.AuctionFilter{}, false))
	snap := s.State()
	assert.Equal(t, 5, snap.TotalCount)
	assert.Equal(t, 1, snap.Page)
	assert.False(t, snap.HasMore)
	assert.Len(t, snap.Auctions, 5)
}

func TestSubscribeReceivesMutations(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())

	var mu sync.Mutex
	var snaps []store.Snapshot
	off := s.Subscribe(func(snap store.Snapshot) {
		mu.Lock()
		snaps = append(snaps, snap)
		mu.Unlock()
	})

	require.NoError(t, s.LoadAuctions(context.Background(), domain.AuctionFilter{}, false))

	mu.Lock()
	// One notification for loading-start, one for the result.
	require.GreaterOrEqual(t, len(snaps), 2)
	assert.True(t, snaps[0].Loading.List)
	last := snaps[len(snaps)-1]
	mu.Unlock()
	assert.False(t, last.Loading.List)
	assert.Len(t, last.Auctions, 1)

	off()
	mu.Lock()
	before := len(snaps)
	mu.Unlock()
	require.NoError(t, s.LoadAuctions(context.Background(), domain.AuctionFilter{Status: domain.AuctionActive}, false))
	mu.Lock()
	assert.Equal(t, before, len(snaps))
	mu.Unlock()
}

func TestSetFilterFromURLDetectsNoChange(t *testing.T) {
	f := newFakeFetcher()
	s := store.New(f, nil, time.Minute, logger.NewNop())

	changed, err := s.SetFilterFromURL(context.Background(), "status=ACTIVE&city=Utrecht&min_price=150000")
	require.NoError(t, err)
	assert.True(t, changed)
	listCalls, _, _ := f.counts()
	assert.Equal(t, 1, listCalls)

	// The same query again is a no-op: no reload loop.
	changed, err = s.SetFilterFromURL(context.Background(), "min_price=150000&city=Utrecht&status=ACTIVE")
	require.NoError(t, err)
	assert.False(t, changed)
	listCalls, _, _ = f.counts()
	assert.Equal(t, 1, listCalls)
}

func TestFilterQueryRoundTrips(t *testing.T) {
	f := newFakeFetcher()
	s := store.New(f, nil, time.Minute, logger.NewNop())

	filter := domain.AuctionFilter{
		Status:   domain.AuctionActive,
		City:     "Den Haag",
		MinPrice: 150000,
		MaxPrice: 400000,
		Sort:     "end_time",
	}
	require.NoError(t, s.LoadAuctions(context.Background(), filter, false))

	assert.Equal(t, filter, domain.ParseFilterQuery(s.FilterQuery()))
}

type stubPlacer struct {
	bid *domain.Bid
	err error
}

func (p *stubPlacer) PlaceBid(ctx context.Context, amount float64, autoBidLimit *float64, userID string) (*domain.Bid, error) {
	return p.bid, p.err
}

func TestPlaceBidMergesConfirmation(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	placer := &stubPlacer{bid: &domain.Bid{ID: "b1", Amount: 205000, Bidder: "u1"}}
	s := store.New(f, func(string) store.BidPlacer { return placer }, time.Minute, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	bid, err := s.PlaceBid(context.Background(), "a1", 205000, nil, "u1")
	require.NoError(t, err)
	// The channel omitted the auction id; the store fills it before merging.
	assert.Equal(t, "a1", bid.AuctionID)

	price, _ := s.CurrentPrice("a1")
	assert.Equal(t, 205000.0, price)
	snap := s.State()
	require.Len(t, snap.Bids, 1)
	assert.Equal(t, "b1", snap.Bids[0].ID)
}

func TestPlaceBidFailureRecordsError(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	rejection := &domain.BidRejectedError{ClientID: "c1", Message: "Bid too low"}
	placer := &stubPlacer{err: rejection}
	s := store.New(f, func(string) store.BidPlacer { return placer }, time.Minute, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	_, err = s.PlaceBid(context.Background(), "a1", 100, nil, "u1")
	var rejected *domain.BidRejectedError
	require.ErrorAs(t, err, &rejected)

	// No speculative mutation happened.
	price, _ := s.CurrentPrice("a1")
	assert.Equal(t, 200000.0, price)
	snap := s.State()
	assert.Empty(t, snap.Bids)
	assert.ErrorAs(t, snap.Failures.PlaceBid, &rejected)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, time.Minute, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)
	s.Invalidate("a1")
	_, err = s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	_, detailCalls, _ := f.counts()
	assert.Equal(t, 2, detailCalls)
}

func TestRefresherSweepsStaleEntries(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	s := store.New(f, nil, 10*time.Millisecond, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)
	require.NoError(t, s.StartRefresher("@every 1s"))
	defer s.StopRefresher()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, calls, _ := f.counts(); calls >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("stale entry never refreshed")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// The sweep must not hijack the currently-viewed auction.
	assert.Equal(t, "a1", s.State().CurrentID)
}

func TestRefresherRejectsInvalidSpec(t *testing.T) {
	s := store.New(newFakeFetcher(), nil, time.Minute, logger.NewNop())
	assert.Error(t, s.StartRefresher("not a cron spec"))
}

func TestLoadBidsOnlyAppliesToCurrentAuction(t *testing.T) {
	f := newFakeFetcher()
	f.auctions["a1"] = sampleAuction("a1", 200000)
	f.auctions["a2"] = sampleAuction("a2", 300000)
	f.bids["a2"] = []domain.Bid{{ID: "b1", AuctionID: "a2", Amount: 301000}}
	s := store.New(f, nil, time.Minute, logger.NewNop())

	_, err := s.LoadAuctionDetail(context.Background(), "a1", store.LoadDetailOptions{})
	require.NoError(t, err)

	// Bids for an auction the user already navigated away from are dropped.
	require.NoError(t, s.LoadBids(context.Background(), "a2", 1, 20))
	assert.Empty(t, s.State().Bids)
}
