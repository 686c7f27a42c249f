package channel

import (
	"context"
	"encoding/json"

	"auction-client/internal/domain"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

const dashboardPath = "/ws/dashboard"

// DashboardEvent is one update from the seller dashboard stream.
type DashboardEvent struct {
	Type      string             `json:"type"`
	Auctions  []domain.Auction   `json:"auctions,omitempty"`
	KPIs      map[string]float64 `json:"kpis,omitempty"`
	Watchlist []string           `json:"watchlist,omitempty"`
}

var dashboardEventTypes = []string{
	domain.TypeDashboardSnapshot,
	domain.TypeKPIUpdate,
	domain.TypeWatchlistUpdate,
}

// DashboardChannel streams aggregate dashboard updates.
type DashboardChannel struct {
	registry *ws.Registry
	sock     *ws.Socket
	log      logger.Logger
}

func OpenDashboard(registry *ws.Registry, log logger.Logger) *DashboardChannel {
	return &DashboardChannel{
		registry: registry,
		sock:     registry.GetOrCreate(dashboardPath),
		log:      log,
	}
}

func (c *DashboardChannel) Connect(ctx context.Context) error {
	return c.sock.Connect(ctx)
}

func (c *DashboardChannel) Close() {
	c.registry.Remove(dashboardPath)
}

func (c *DashboardChannel) Socket() *ws.Socket {
	return c.sock
}

func (c *DashboardChannel) Subscribe(h func(DashboardEvent)) func() {
	return subscribeTypes(c.sock, dashboardEventTypes, func(data []byte) {
		var ev DashboardEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warn("Failed to decode dashboard event", "error", err)
			return
		}
		h(ev)
	})
}
