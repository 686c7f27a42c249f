package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"auction-client/internal/api"
	"auction-client/internal/auth"
	"auction-client/internal/channel"
	"auction-client/internal/config"
	"auction-client/internal/domain"
	"auction-client/internal/store"
	"auction-client/internal/ws"
	"auction-client/pkg/logger"
)

func main() {
	log := logger.New()
	log.Info("Starting auction client")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("Configuration loaded", "config", cfg.GetConfigString())

	// Session tokens come from the environment; refresh is left to the
	// hosting application, so expired tokens surface as auth errors here.
	session := auth.NewSession(
		os.Getenv("AUCTION_USER_ID"),
		os.Getenv("AUCTION_ACCESS_TOKEN"),
		os.Getenv("AUCTION_REFRESH_TOKEN"),
		nil,
	)

	// REST client
	apiClient := api.NewClient(cfg.API.BaseURL, cfg.API.RequestTimeout, session, log)

	// Socket registry shared by every channel
	registry := ws.NewRegistry(cfg.Socket.BaseURL, session, ws.Options{
		AutoReconnect:        true,
		HandshakeTimeout:     cfg.Socket.HandshakeTimeout,
		WriteTimeout:         cfg.Socket.WriteTimeout,
		KeepaliveInterval:    cfg.Socket.KeepaliveInterval,
		BackoffInitial:       cfg.Socket.BackoffInitial,
		BackoffMax:           cfg.Socket.BackoffMax,
		BackoffFactor:        cfg.Socket.BackoffFactor,
		JitterBand:           cfg.Socket.JitterBand,
		MaxReconnectAttempts: cfg.Socket.MaxReconnectAttempts,
		QueueMaxAge:          cfg.Socket.QueueMaxAge,
	}, log)

	// Auction state store backed by the REST client, placing bids through
	// each auction's bidding channel
	st := store.New(apiClient, func(auctionID string) store.BidPlacer {
		return channel.OpenBidding(registry, auctionID, session, cfg.Bid.PlaceTimeout, log)
	}, cfg.Store.DetailTTL, log)

	if err := st.StartRefresher(cfg.Store.RefreshSpec); err != nil {
		log.Error("Failed to start background refresher", "error", err)
		os.Exit(1)
	}

	unsubscribe := st.Subscribe(func(snap store.Snapshot) {
		log.Debug("Store updated",
			"auctions", len(snap.Auctions),
			"bids", len(snap.Bids),
			"current", snap.CurrentID)
	})
	defer unsubscribe()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := st.LoadAuctions(ctx, domain.AuctionFilter{Status: domain.AuctionActive}, false); err != nil {
		log.Error("Failed to load auction list", "error", err)
	}
	cancel()

	// Global channels: notifications and the dashboard feed
	notifications := channel.OpenNotifications(registry, log)
	if err := notifications.Connect(context.Background()); err != nil {
		log.Warn("Notification channel unavailable", "error", err)
	}
	notifications.Subscribe(func(ev channel.NotificationEvent) {
		log.Info("Notification", "type", ev.Type, "unread", ev.UnreadCount)
	})

	dashboard := channel.OpenDashboard(registry, log)
	if err := dashboard.Connect(context.Background()); err != nil {
		log.Warn("Dashboard channel unavailable", "error", err)
	}
	dashboard.Subscribe(func(ev channel.DashboardEvent) {
		log.Info("Dashboard update", "type", ev.Type, "auctions", len(ev.Auctions))
	})

	// Watch the auctions named in AUCTION_WATCH
	var watched []*channel.AuctionChannel
	for _, id := range splitList(os.Getenv("AUCTION_WATCH")) {
		ch := channel.OpenAuction(registry, id, log)
		if err := ch.Connect(context.Background()); err != nil {
			log.Error("Failed to open auction channel", "auction_id", id, "error", err)
			continue
		}
		ch.Subscribe(func(ev channel.AuctionEvent) {
			log.Info("Auction event",
				"auction_id", id,
				"type", ev.Type,
				"current_price", ev.CurrentPrice,
				"bid_count", ev.BidCount)
		})
		if err := ch.Watch(context.Background()); err != nil {
			log.Warn("Failed to send watch request", "auction_id", id, "error", err)
		}
		watched = append(watched, ch)
		log.Info("Watching auction", "auction_id", id)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction client...")

	for _, ch := range watched {
		ch.Close()
	}
	notifications.Close()
	dashboard.Close()
	st.StopRefresher()
	registry.CloseAll()

	log.Info("Auction client stopped")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
