package server

import (
	"encoding/json"
	"net/http"
	"time"

	"rtrader-bridge/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// hubMessage is one state change queued for the websocket clients.
type hubMessage struct {
	topic string
	state *models.MLatestData
}

// subscription narrows a client to topics. Only the hub goroutine applies
// it, since only the hub knows whether client.send is still open.
type subscription struct {
	client *Client
	topics map[string]bool
}

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

func (s *APIServer) runHub() {
	for {
		select {
		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				close(client.send)
			}
			s.setConnections(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setConnections(len(s.clients))
			client.send <- s.snapshot(nil)

		case sub := <-s.subscribe:
			if _, ok := s.clients[sub.client]; !ok {
				continue
			}
			sub.client.setTopics(sub.topics)
			select {
			case sub.client.send <- s.snapshot(sub.topics):
			default:
			}

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				close(client.send)
				s.setConnections(len(s.clients))
			}

		case msg := <-s.broadcast:
			for client := range s.clients {
				if !client.wants(msg.topic) {
					continue
				}
				select {
				case client.send <- msg.state:
				default:
					// slow consumer, drop it rather than stall the hub
					delete(s.clients, client)
					close(client.send)
				}
			}
			s.setConnections(len(s.clients))
		}
	}
}

func (s *APIServer) setConnections(n int) {
	s.stateMutex.Lock()
	s.connections = n
	s.stateMutex.Unlock()
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Broadcast merges payload into the latest state and queues it for clients.
// It never blocks: when the queue is full the push is dropped, the state
// is still updated.
func (s *APIServer) Broadcast(payload interface{}) {
	now := time.Now().Unix()
	msg := hubMessage{state: &models.MLatestData{Type: "UPDATE", Timestamp: now}}

	s.stateMutex.Lock()
	switch v := payload.(type) {
	case models.MQuoteUpdate:
		msg.topic = TopicQuotes
		s.latestState.Quote = &v
		msg.state.Quote = &v
	case models.MCapturedFrame:
		msg.topic = TopicFrames
		frames := append(s.latestState.Frames, v)
		if len(frames) > maxStateFrames {
			frames = frames[len(frames)-maxStateFrames:]
		}
		s.latestState.Frames = frames
		msg.state.Frames = []models.MCapturedFrame{v}
	case []models.MPortReport:
		msg.topic = TopicReports
		s.latestState.Reports = v
		msg.state.Reports = v
	case models.MPollMetrics:
		msg.topic = TopicMetrics
		s.latestState.Metrics = v
	default:
		s.stateMutex.Unlock()
		s.Logger.Warning("Broadcast got unsupported payload %T", payload)
		return
	}
	s.latestState.Type = "UPDATE"
	s.latestState.Timestamp = now
	msg.state.Metrics = s.latestState.Metrics
	s.stateMutex.Unlock()

	select {
	case s.broadcast <- msg:
	default:
		s.Logger.Warning("Broadcast queue full, dropping %s push", msg.topic)
	}
}

// -----------------------------------------------------------------------------

// snapshot copies the latest state, restricted to topics when given.
func (s *APIServer) snapshot(topics map[string]bool) *models.MLatestData {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	all := len(topics) == 0
	out := &models.MLatestData{
		Type:      "INITIAL",
		Timestamp: s.latestState.Timestamp,
		Metrics:   s.latestState.Metrics,
	}
	if all || topics[TopicQuotes] {
		out.Quote = s.latestState.Quote
	}
	if all || topics[TopicFrames] {
		out.Frames = append([]models.MCapturedFrame(nil), s.latestState.Frames...)
	}
	if all || topics[TopicReports] {
		out.Reports = s.latestState.Reports
	}
	return out
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *APIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		send: make(chan interface{}, 256),
	}

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage applies a subscribe command and answers with the
// current state for the chosen topics.
func (s *APIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}
	if cmd.Command != "subscribe" {
		return
	}

	select {
	case s.subscribe <- subscription{client: client, topics: parseTopics(cmd.Topics)}:
	case <-s.done:
	}
}
