package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-client/internal/api"
	"auction-client/internal/auth"
	"auction-client/internal/domain"
	"auction-client/internal/testserver"
	"auction-client/pkg/logger"
)

func TestListAuctionsSendsBearerAndFilter(t *testing.T) {
	var gotAuth, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"count":1,"results":[{"id":"a1","current_price":150000}]}`))
	}))
	defer srv.Close()

	session := auth.NewSession("u1", "tok-1", "", nil)
	client := api.NewClient(srv.URL, time.Second, session, logger.NewNop())

	list, err := client.ListAuctions(context.Background(), domain.AuctionFilter{
		Status: domain.AuctionActive,
		City:   "Utrecht",
	}, 2, 10)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-1", gotAuth)
	assert.Contains(t, gotQuery, "status=ACTIVE")
	assert.Contains(t, gotQuery, "city=Utrecht")
	assert.Contains(t, gotQuery, "page=2")
	assert.Contains(t, gotQuery, "page_size=10")
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, "a1", list.Results[0].ID)
}

func TestUnauthorizedRefreshesExactlyOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"token expired"}`))
			return
		}
		w.Write([]byte(`{"id":"a1","current_price":150000}`))
	}))
	defer srv.Close()

	refreshes := 0
	session := auth.NewSession("u1", "stale", "refresh-1", func(ctx context.Context, refreshToken string) (string, string, error) {
		refreshes++
		assert.Equal(t, "refresh-1", refreshToken)
		return "fresh", "", nil
	})
	client := api.NewClient(srv.URL, time.Second, session, logger.NewNop())

	auction, err := client.GetAuction(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", auction.ID)
	assert.Equal(t, 1, refreshes)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "fresh", session.AccessToken())
}

func TestUnauthorizedAfterRefreshSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"account disabled","code":"forbidden"}`))
	}))
	defer srv.Close()

	// Refresh succeeds but the backend keeps rejecting: no retry loop.
	session := auth.NewSession("u1", "stale", "refresh-1", func(ctx context.Context, refreshToken string) (string, string, error) {
		return "still-bad", "", nil
	})
	client := api.NewClient(srv.URL, time.Second, session, logger.NewNop())

	_, err := client.GetAuction(context.Background(), "a1")
	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "account disabled", apiErr.Message)
	assert.Equal(t, "forbidden", apiErr.Code)
}

func TestFailedRefreshReportsSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"token expired"}`))
	}))
	defer srv.Close()

	session := auth.NewSession("u1", "stale", "", nil)
	client := api.NewClient(srv.URL, time.Second, session, logger.NewNop())

	_, err := client.GetAuction(context.Background(), "a1")
	assert.ErrorIs(t, err, domain.ErrAuthExpired)
}

func TestErrorNormalization(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
		code    string
	}{
		{"error field", 404, `{"error":"auction not found","code":"not_found"}`, "auction not found", "not_found"},
		{"message field", 400, `{"message":"bad filter"}`, "bad filter", ""},
		{"detail field", 422, `{"detail":"min_price above max_price"}`, "min_price above max_price", ""},
		{"non-json body", 502, `upstream exploded`, "Bad Gateway", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client := api.NewClient(srv.URL, time.Second, nil, logger.NewNop())
			_, err := client.GetAuction(context.Background(), "a1")

			var apiErr *domain.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tc.status, apiErr.Status)
			assert.Equal(t, tc.message, apiErr.Message)
			assert.Equal(t, tc.code, apiErr.Code)
			assert.Equal(t, tc.body, apiErr.Raw)
		})
	}
}

func TestListBidsAgainstBackendFixture(t *testing.T) {
	srv := testserver.New()
	defer srv.Close()
	srv.AddAuction(domain.Auction{ID: "a1", Status: domain.AuctionActive, CurrentPrice: 180000})
	srv.SetBids("a1", []domain.Bid{
		{ID: "b1", AuctionID: "a1", Amount: 180000},
		{ID: "b2", AuctionID: "a1", Amount: 175000},
		{ID: "b3", AuctionID: "a1", Amount: 170000},
	})

	client := api.NewClient(srv.URL(), time.Second, nil, logger.NewNop())

	page, err := client.ListBids(context.Background(), "a1", 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, page.Count)
	assert.Len(t, page.Results, 2)
	assert.Equal(t, "b1", page.Results[0].ID)

	page, err = client.ListBids(context.Background(), "a1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Results, 1)
	assert.Equal(t, "b3", page.Results[0].ID)
}

func TestContextCancellationPropagates(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	client := api.NewClient(srv.URL, 30*time.Second, nil, logger.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetAuction(ctx, "a1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled))
}
