package foxglove

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"bandwire/pkg/engine"
	"bandwire/pkg/protocol"
)

const subprotocol = "foxglove.websocket.v1"

// Server bridges decoded spectra to Foxglove Studio over a websocket.
type Server struct {
	cfg       Config
	hub       *engine.Hub
	stats     func() engine.Stats
	logger    *slog.Logger
	sessionID string
	now       func() time.Time
	clients   map[*client]struct{}
	mu        sync.RWMutex
}

type Option func(*Server)

// WithStats enables the rate channel, fed from fn on every RateInterval.
func WithStats(fn func() engine.Stats) Option {
	return func(s *Server) {
		s.stats = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewServer(cfg Config, hub *engine.Hub, opts ...Option) *Server {
	s := &Server{
		cfg:       cfg.withDefaults(),
		hub:       hub,
		logger:    slog.New(slog.DiscardHandler),
		sessionID: uuid.NewString(),
		now:       time.Now,
		clients:   make(map[*client]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler serves the websocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleWS)
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.WSAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	slot := s.hub.Subscribe()
	defer s.hub.Unsubscribe(slot)
	go s.broadcastLoop(ctx, slot)

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.Info("foxglove bridge listening", "addr", s.cfg.WSAddr, "session", s.sessionID)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		s.closeClients()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{subprotocol},
		CheckOrigin: func(*http.Request) bool {
			return true
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c := newClient(conn, s.cfg.SendBuf)
	if err := conn.WriteJSON(s.serverInfo()); err != nil {
		c.close()
		return
	}
	if err := conn.WriteJSON(s.advertise()); err != nil {
		c.close()
		return
	}
	s.addClient(c)
	s.logger.Info("foxglove client connected", "remote", r.RemoteAddr)

	go c.writeLoop()
	c.readLoop(s.supportedChannels())

	c.close()
	s.removeClient(c)
	s.logger.Info("foxglove client disconnected", "remote", r.RemoteAddr)
}

func (s *Server) supportedChannels() map[uint64]struct{} {
	channels := map[uint64]struct{}{s.cfg.ChannelID: {}}
	if s.stats != nil {
		channels[s.cfg.RateChannelID] = struct{}{}
	}
	return channels
}

func (s *Server) serverInfo() ServerInfoMsg {
	return ServerInfoMsg{
		Op:                 OpServerInfo,
		Name:               s.cfg.Name,
		Capabilities:       []string{},
		SupportedEncodings: []string{},
		Metadata:           map[string]string{"wire_version": "1"},
		SessionID:          s.sessionID,
	}
}

func (s *Server) advertise() AdvertiseMsg {
	channels := []Channel{{
		ID:             s.cfg.ChannelID,
		Topic:          s.cfg.Topic,
		Encoding:       s.cfg.Encoding,
		SchemaName:     s.cfg.SchemaName,
		SchemaEncoding: "jsonschema",
		Schema:         SpectrumSchema,
	}}
	if s.stats != nil {
		channels = append(channels, Channel{
			ID:             s.cfg.RateChannelID,
			Topic:          s.cfg.RateTopic,
			Encoding:       s.cfg.Encoding,
			SchemaName:     s.cfg.RateSchema,
			SchemaEncoding: "jsonschema",
			Schema:         RateSchema,
		})
	}
	return AdvertiseMsg{Op: OpAdvertise, Channels: channels}
}

func (s *Server) broadcastLoop(ctx context.Context, slot *engine.LatestSlot) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	lastRate := s.now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.now()
			if pkt, ok := slot.Take(); ok {
				s.publishJSONToChannel(s.cfg.ChannelID, now, spectrumMessage(pkt, now))
			}
			if s.stats != nil && now.Sub(lastRate) >= s.cfg.RateInterval {
				lastRate = now
				s.publishJSONToChannel(s.cfg.RateChannelID, now, rateMessage(s.stats(), now))
			}
		}
	}
}

func spectrumMessage(pkt protocol.Packet, ts time.Time) SpectrumMessage {
	raw := pkt.Bands()
	bands := make([]uint16, len(raw))
	for i, b := range raw {
		bands[i] = uint16(b)
	}
	return SpectrumMessage{
		Timestamp:       frameTime(ts),
		SenderTimestamp: pkt.Timestamp(),
		Version:         pkt.Version(),
		Flags:           pkt.Flags(),
		Interpolated:    pkt.Interpolated(),
		Bands:           bands,
		Normalized:      pkt.Normalized(),
		Peak:            pkt.Peak(),
		Mean:            pkt.Mean(),
	}
}

func rateMessage(stats engine.Stats, ts time.Time) RateMessage {
	errs := make(map[string]uint64, len(stats.Errors))
	for kind, n := range stats.Errors {
		errs[kind.String()] = n
	}
	return RateMessage{
		Timestamp:         frameTime(ts),
		RawTotal:          stats.Raw.Total,
		DecodedTotal:      stats.Decoded.Total,
		RawCumulative:     stats.Raw.Cumulative,
		RawWindowed:       stats.Raw.Windowed,
		DecodedCumulative: stats.Decoded.Cumulative,
		DecodedWindowed:   stats.Decoded.Windowed,
		DecodeErrors:      errs,
	}
}

func (s *Server) publishJSONToChannel(channelID uint64, ts time.Time, message any) {
	payload, err := json.Marshal(message)
	if err != nil {
		s.logger.Warn("foxglove marshal failed", "channel", channelID, "err", err)
		return
	}

	logTime := uint64(ts.UnixNano())
	for _, c := range s.snapshotClients() {
		for _, subID := range c.subIDsForChannel(channelID) {
			c.trySend(EncodeMessageData(subID, logTime, payload))
		}
	}
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) snapshotClients() []*client {
	s.mu.RLock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.RUnlock()
	return clients
}

func (s *Server) closeClients() {
	for _, c := range s.snapshotClients() {
		c.close()
	}
}
