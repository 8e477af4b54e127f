package ws

import (
	"context"
	"net"
	"net/http"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/shobu13/kindly-kappa/internal/events"
	"github.com/shobu13/kindly-kappa/internal/ratelimit"
)

type Options struct {
	MessagesPerSecond float64
	MessageBurst      int
	// Rate limit violations tolerated before the connection is dropped; 0 never drops
	MaxViolations int
}

func DefaultOptions() Options {
	return Options{
		MessagesPerSecond: 100,
		MessageBurst:      200,
		MaxViolations:     1000,
	}
}

// Server upgrades requests to room sessions
type Server struct {
	ctx      context.Context
	service  *events.Service
	connects *ratelimit.KeyedLimiters
	opts     Options
	upgrader websocket.Upgrader
}

// Sessions live until ctx is done, then close with 1001. connects limits new
// connections per remote IP and may be nil.
func NewServer(ctx context.Context, service *events.Service, connects *ratelimit.KeyedLimiters, opts Options) *Server {
	return &Server{
		ctx:      ctx,
		service:  service,
		connects: connects,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if s.connects != nil && !s.connects.Allow(ip) {
		glog.Warningf("[ws] refused connection from %s: too many attempts", ip)
		http.Error(w, "Too many connection attempts", http.StatusTooManyRequests)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[ws] upgrade from %s: %v", ip, err)
		return
	}

	limiter := ratelimit.NewLimiter(s.opts.MessagesPerSecond, s.opts.MessageBurst, s.opts.MaxViolations)
	client := newClient(conn, s.service, limiter, r.RemoteAddr)
	glog.V(2).Infof("[ws] session %s connected from %s", client.session.ID, r.RemoteAddr)

	go client.writePump(s.ctx)
	go client.readPump(s.ctx)
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
