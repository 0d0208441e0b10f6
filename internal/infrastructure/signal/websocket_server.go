package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"statwindow/internal/core/domain"
	"statwindow/pkg/validation"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// PushMessage is the envelope of every frame sent or received.
type PushMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SubscribePayload narrows a client to some partitions, e.g. "outbound-video".
// An empty list subscribes to everything.
type SubscribePayload struct {
	Partitions []string `json:"partitions"`
}

const (
	MessageTypeBatch     = "batch"
	MessageTypeSubscribe = "subscribe"
	MessageTypeError     = "error"
)

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte

	mu         sync.RWMutex
	partitions map[string]bool
}

func (c *client) wants(partition domain.Partition) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.partitions) == 0 || c.partitions[partition.String()]
}

func (c *client) subscribe(partitions []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partitions = make(map[string]bool, len(partitions))
	for _, p := range partitions {
		c.partitions[p] = true
	}
}

// WebSocketServer pushes every sample batch to connected clients. It is a
// report sink; slow clients lose batches instead of stalling the scheduler.
type WebSocketServer struct {
	clients map[string]*client
	mu      sync.RWMutex
	wg      sync.WaitGroup

	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration
	queueSize    int

	logger *zap.SugaredLogger
}

func NewWebSocketServer(logger *zap.SugaredLogger) *WebSocketServer {
	return &WebSocketServer{
		clients:      make(map[string]*client),
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		queueSize:    64,
		logger:       logger,
	}
}

// SetPingInterval sets ping interval for WebSocket connections. The read
// timeout follows at twice the interval.
func (s *WebSocketServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
	s.readTimeout = 2 * interval
}

// SetWriteTimeout sets the deadline of a single frame write.
func (s *WebSocketServer) SetWriteTimeout(timeout time.Duration) {
	s.writeTimeout = timeout
}

// SetQueueSize sets how many frames may wait per client.
func (s *WebSocketServer) SetQueueSize(size int) {
	s.queueSize = size
}

// ClientCount returns the number of connected clients.
func (s *WebSocketServer) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var partitions []string
	if filter := r.URL.Query().Get("partitions"); filter != "" {
		partitions = strings.Split(filter, ",")
		if err := validation.ValidatePartitions(partitions); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	c := &client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, s.queueSize),
	}
	if len(partitions) > 0 {
		c.subscribe(partitions)
	}

	s.mu.Lock()
	s.clients[c.id] = c
	s.mu.Unlock()

	s.logger.Infow("push client connected", "client_id", c.id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go s.readLoop(c, done)
	s.writeLoop(c, done)

	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	conn.Close()

	s.logger.Infow("push client disconnected", "client_id", c.id)
}

// readLoop handles control messages and notices when the client goes away.
func (s *WebSocketServer) readLoop(c *client, done chan<- struct{}) {
	defer close(done)

	c.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		return nil
	})

	for {
		var msg PushMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading from push client", "client_id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.readTimeout))

		if err := s.handleMessage(c, msg); err != nil {
			s.enqueueError(c, err)
		}
	}
}

func (s *WebSocketServer) handleMessage(c *client, msg PushMessage) error {
	switch msg.Type {
	case MessageTypeSubscribe:
		var payload SubscribePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("invalid subscribe payload: %w", err)
		}
		if err := validation.ValidatePartitions(payload.Partitions); err != nil {
			return err
		}
		c.subscribe(payload.Partitions)
		s.logger.Debugw("push client subscribed", "client_id", c.id, "partitions", payload.Partitions)
		return nil
	case "":
		return fmt.Errorf("message type is required")
	default:
		return fmt.Errorf("unknown message type: %s", msg.Type)
	}
}

func (s *WebSocketServer) writeLoop(c *client, done <-chan struct{}) {
	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				s.logger.Infow("error writing to push client", "client_id", c.id, "error", err)
				return
			}

		case <-pingTicker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "client_id", c.id, "error", err)
				return
			}

		case <-done:
			return
		}
	}
}

func (s *WebSocketServer) enqueueError(c *client, err error) {
	payload, _ := json.Marshal(map[string]string{"error": err.Error()})
	frame, _ := json.Marshal(PushMessage{Type: MessageTypeError, Payload: payload})
	select {
	case c.send <- frame:
	default:
	}
}

// Publish sends batch to every subscribed client without blocking.
func (s *WebSocketServer) Publish(_ context.Context, batch domain.SampleBatch) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	payload, err := json.Marshal(batch)
	if err != nil {
		s.logger.Errorw("failed to encode sample batch", "partition", batch.Partition.String(), "error", err)
		return
	}
	frame, err := json.Marshal(PushMessage{Type: MessageTypeBatch, Payload: payload})
	if err != nil {
		s.logger.Errorw("failed to encode push message", "error", err)
		return
	}

	for _, c := range s.clients {
		if !c.wants(batch.Partition) {
			continue
		}
		select {
		case c.send <- frame:
		default:
			s.logger.Debugw("push client queue full, dropping batch", "client_id", c.id)
		}
	}
}

// Close disconnects every client and waits for their handlers to return.
func (s *WebSocketServer) Close() {
	s.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for _, c := range s.clients {
		conns = append(conns, c.conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
	}
	s.wg.Wait()
}
