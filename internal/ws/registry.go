package ws

import (
	"net/url"
	"strings"
	"sync"

	"auction-client/pkg/logger"
)

// TokenSource supplies the bearer token appended to connection URLs. The
// auth session satisfies it.
type TokenSource interface {
	AccessToken() string
}

// Registry guarantees at most one live socket per endpoint path. It is an
// explicit injectable object rather than a package singleton so tests can
// run isolated registries side by side. The registry owns its sockets;
// channels only borrow them and must route closes through here, since other
// channels may share the same socket.
type Registry struct {
	baseURL  string
	tokens   TokenSource
	defaults Options
	log      logger.Logger

	mu      sync.Mutex
	sockets map[string]*Socket
}

func NewRegistry(baseURL string, tokens TokenSource, defaults Options, log logger.Logger) *Registry {
	return &Registry{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokens:   tokens,
		defaults: defaults,
		log:      log,
		sockets:  make(map[string]*Socket),
	}
}

// GetOrCreate returns the live socket for path, or constructs and registers
// a new one. A socket that was explicitly closed is replaced.
func (r *Registry) GetOrCreate(path string) *Socket {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sockets[path]; ok && !s.Closed() {
		return s
	}

	opts := r.defaults
	opts.URL = r.buildURL(path)
	s := NewSocket(opts, r.log)
	r.sockets[path] = s
	r.log.Debug("Socket registered", "path", path)
	return s
}

// Get returns the registered socket for path, if any.
func (r *Registry) Get(path string) (*Socket, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sockets[path]
	return s, ok
}

// Remove disconnects the socket for path if it is still open, then
// deregisters it.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	s := r.sockets[path]
	delete(r.sockets, path)
	r.mu.Unlock()

	if s != nil {
		s.Disconnect()
		r.log.Debug("Socket removed", "path", path)
	}
}

// CloseAll disconnects and deregisters every socket. Used on global logout.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sockets := r.sockets
	r.sockets = make(map[string]*Socket)
	r.mu.Unlock()

	for path, s := range sockets {
		s.Disconnect()
		r.log.Debug("Socket closed", "path", path)
	}
}

// Count returns the number of registered sockets.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sockets)
}

// buildURL joins the base URL and path and appends the current access token
// as a percent-encoded query parameter.
func (r *Registry) buildURL(path string) string {
	u := r.baseURL + path
	if r.tokens == nil {
		return u
	}
	token := r.tokens.AccessToken()
	if token == "" {
		return u
	}
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "token=" + url.QueryEscape(token)
}
