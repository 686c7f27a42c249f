// Package testserver is a scriptable in-process auction backend used by the
// package tests: real REST routes and real WebSocket upgrades, with frames
// pushed by the test instead of business logic.
package testserver

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"auction-client/internal/domain"
)

// Frame is one frame received from a client socket.
type Frame struct {
	Path string
	Data []byte
}

type Server struct {
	echo *echo.Echo
	http *httptest.Server

	mu          sync.Mutex
	auctions    map[string]domain.Auction
	bids        map[string][]domain.Bid
	conns       map[string][]*websocket.Conn
	validToken  string
	listCalls   int
	detailCalls int
	bidCalls    int

	frames chan Frame
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func New() *Server {
	s := &Server{
		echo:     echo.New(),
		auctions: make(map[string]domain.Auction),
		bids:     make(map[string][]domain.Bid),
		conns:    make(map[string][]*websocket.Conn),
		frames:   make(chan Frame, 64),
	}
	s.echo.HideBanner = true

	s.echo.GET("/api/auctions", s.handleList)
	s.echo.GET("/api/auctions/:id", s.handleDetail)
	s.echo.GET("/api/auctions/:id/bids", s.handleBids)
	s.echo.GET("/ws/*", s.handleSocket)

	s.http = httptest.NewServer(s.echo)
	return s
}

func (s *Server) Close() {
	s.mu.Lock()
	conns := s.conns
	s.conns = make(map[string][]*websocket.Conn)
	s.mu.Unlock()
	for _, list := range conns {
		for _, c := range list {
			c.Close()
		}
	}
	s.http.Close()
}

// URL returns the http:// base address.
func (s *Server) URL() string {
	return s.http.URL
}

// WSBase returns the ws:// base address.
func (s *Server) WSBase() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

// RequireToken makes REST require a matching bearer token and WebSocket
// upgrades require a matching token query parameter, rejected with the
// auth-failed close code.
func (s *Server) RequireToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validToken = token
}

func (s *Server) AddAuction(a domain.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a
}

func (s *Server) SetBids(auctionID string, bids []domain.Bid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[auctionID] = bids
}

// Frames exposes every non-keepalive frame received from clients.
func (s *Server) Frames() <-chan Frame {
	return s.frames
}

// ListCalls reports how many list requests were served.
func (s *Server) ListCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

// DetailCalls reports how many detail requests were served.
func (s *Server) DetailCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detailCalls
}

// Push sends v as a JSON frame to every client connected on path.
func (s *Server) Push(path string, v any) error {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns[path]...)
	s.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteJSON(v); err != nil {
			return err
		}
	}
	return nil
}

// DropClients closes every client on path with the given close code,
// simulating a server-side failure.
func (s *Server) DropClients(path string, code int) {
	s.mu.Lock()
	conns := s.conns[path]
	delete(s.conns, path)
	s.mu.Unlock()

	for _, c := range conns {
		deadline := time.Now().Add(time.Second)
		c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		c.Close()
	}
}

// ClientCount reports live sockets on path.
func (s *Server) ClientCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[path])
}

func (s *Server) authorized(c echo.Context) bool {
	s.mu.Lock()
	token := s.validToken
	s.mu.Unlock()
	if token == "" {
		return true
	}
	return c.Request().Header.Get("Authorization") == "Bearer "+token
}

func (s *Server) handleList(c echo.Context) error {
	s.mu.Lock()
	s.listCalls++
	s.mu.Unlock()

	if !s.authorized(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	status := c.QueryParam("status")
	s.mu.Lock()
	results := make([]domain.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		if status != "" && string(a.Status) != status {
			continue
		}
		results = append(results, a)
	}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, domain.AuctionList{Count: len(results), Results: results})
}

func (s *Server) handleDetail(c echo.Context) error {
	s.mu.Lock()
	s.detailCalls++
	a, ok := s.auctions[c.Param("id")]
	s.mu.Unlock()

	if !s.authorized(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "auction not found", "code": "not_found"})
	}
	return c.JSON(http.StatusOK, a)
}

func (s *Server) handleBids(c echo.Context) error {
	s.mu.Lock()
	s.bidCalls++
	bids := append([]domain.Bid(nil), s.bids[c.Param("id")]...)
	s.mu.Unlock()

	if !s.authorized(c) {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	start := (page - 1) * pageSize
	if start > len(bids) {
		start = len(bids)
	}
	end := start + pageSize
	if end > len(bids) {
		end = len(bids)
	}

	return c.JSON(http.StatusOK, domain.BidPage{
		Count:    len(bids),
		Page:     page,
		PageSize: pageSize,
		Results:  bids[start:end],
	})
}

func (s *Server) handleSocket(c echo.Context) error {
	path := c.Request().URL.Path

	s.mu.Lock()
	token := s.validToken
	s.mu.Unlock()

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	if token != "" && c.QueryParam("token") != token {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(4401, "auth failed"), deadline)
		conn.Close()
		return nil
	}

	s.mu.Lock()
	s.conns[path] = append(s.conns[path], conn)
	s.mu.Unlock()

	go s.readPump(path, conn)
	return nil
}

func (s *Server) readPump(path string, conn *websocket.Conn) {
	defer func() {
		s.mu.Lock()
		list := s.conns[path]
		for i, c := range list {
			if c == conn {
				s.conns[path] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		// Keepalive is answered here and never surfaced to the test.
		if gjson.GetBytes(data, "type").String() == domain.TypePing {
			conn.WriteJSON(map[string]string{"type": domain.TypePong})
			continue
		}
		select {
		case s.frames <- Frame{Path: path, Data: data}:
		default:
		}
	}
}
