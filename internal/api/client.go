package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auction-client/internal/auth"
	"auction-client/internal/domain"
	"auction-client/pkg/logger"
)

// Client is the thin REST boundary the store fetches through. Every request
// carries the session bearer token; a 401 gets exactly one refresh-and-retry
// before the failure surfaces.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenProvider
	log     logger.Logger
}

func NewClient(baseURL string, timeout time.Duration, tokens auth.TokenProvider, log logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		log:     log,
	}
}

// ListAuctions fetches one page of auctions matching the filter.
func (c *Client) ListAuctions(ctx context.Context, filter domain.AuctionFilter, page, pageSize int) (*domain.AuctionList, error) {
	q := filter.Values()
	if page > 0 {
		q.Set("page", fmt.Sprint(page))
	}
	if pageSize > 0 {
		q.Set("page_size", fmt.Sprint(pageSize))
	}
	path := "/api/auctions"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}

	var list domain.AuctionList
	if err := c.getJSON(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetAuction fetches one auction's detail.
func (c *Client) GetAuction(ctx context.Context, id string) (*domain.Auction, error) {
	var auction domain.Auction
	if err := c.getJSON(ctx, "/api/auctions/"+id, &auction); err != nil {
		return nil, err
	}
	return &auction, nil
}

// ListBids fetches one page of an auction's bid history.
func (c *Client) ListBids(ctx context.Context, auctionID string, page, pageSize int) (*domain.BidPage, error) {
	path := fmt.Sprintf("/api/auctions/%s/bids?page=%d&page_size=%d", auctionID, page, pageSize)
	var bids domain.BidPage
	if err := c.getJSON(ctx, path, &bids); err != nil {
		return nil, err
	}
	return &bids, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.do(ctx, http.MethodGet, path, true)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, allowRetry bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized && allowRetry && c.tokens != nil {
		c.log.Info("Access token rejected, refreshing once", "path", path)
		if err := c.tokens.Refresh(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthExpired, err)
		}
		return c.do(ctx, method, path, false)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, normalizeError(resp.StatusCode, body)
	}
	return body, nil
}

// normalizeError folds any non-2xx response into the uniform APIError
// shape, keeping the raw body for callers that need it.
func normalizeError(status int, body []byte) *domain.APIError {
	apiErr := &domain.APIError{
		Status: status,
		Raw:    string(body),
	}

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Code    string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Detail != "":
			apiErr.Message = payload.Detail
		}
		apiErr.Code = payload.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
