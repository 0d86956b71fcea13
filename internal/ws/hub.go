package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"comm_core/internal/delivery"
	"comm_core/internal/event"
	"comm_core/internal/presence"
	"comm_core/internal/router"
	"comm_core/internal/signaling"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub ties the transport to the core components: connections register with
// presence, join rooms through the router, and their inbound events are
// routed to the coordinator and the signaling relay.
type Hub struct {
	Register   chan *Client
	Unregister chan *Client

	registry    *presence.Registry
	rooms       *router.Rooms
	coordinator *delivery.Coordinator
	relay       *signaling.Relay
	log         *slog.Logger
}

func NewHub(registry *presence.Registry, rooms *router.Rooms, coordinator *delivery.Coordinator, relay *signaling.Relay, log *slog.Logger) *Hub {
	return &Hub{
		Register:    make(chan *Client),
		Unregister:  make(chan *Client),
		registry:    registry,
		rooms:       rooms,
		coordinator: coordinator,
		relay:       relay,
		log:         log,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.registry.Register(client)
			h.log.Info("client connected",
				slog.Int64("user_id", client.userID),
				slog.String("phone", client.phone),
				slog.String("conn_id", client.id))

		case client := <-h.Unregister:
			h.rooms.Drop(client)
			h.registry.Unregister(client)
			client.close()
			h.log.Info("client disconnected",
				slog.Int64("user_id", client.userID),
				slog.String("conn_id", client.id))
		}
	}
}

// ServeConnection upgrades an already-authenticated request and runs the
// connection's pumps. Authentication happens before this is called; a
// failed handshake never reaches the hub.
func (h *Hub) ServeConnection(w http.ResponseWriter, r *http.Request, userID int64, phone string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", slog.String("err", err.Error()))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		id:     uuid.NewString(),
		userID: userID,
		phone:  phone,
		send:   make(chan []byte, 256),
	}
	h.Register <- client

	go client.writePump()
	go client.readPump()
}

// route dispatches one inbound frame. The event vocabulary is fixed; every
// name is matched here and unknown names are logged and dropped.
func (h *Hub) route(c presence.Conn, env event.Envelope) {
	ctx := context.Background()

	switch env.Event {
	case event.ConvJoinName:
		if p, ok := decode[event.ConvJoin](h, env); ok {
			h.rooms.Join(c, p.ConversationID)
			h.log.Debug("joined conversation",
				slog.Int64("user_id", c.UserID()),
				slog.Int64("conversation_id", p.ConversationID))
		}
	case event.ConvLeaveName:
		if p, ok := decode[event.ConvLeave](h, env); ok {
			h.rooms.Leave(c, p.ConversationID)
		}
	case event.MsgSendName:
		if p, ok := decode[event.MsgSend](h, env); ok {
			h.coordinator.Send(ctx, c, p)
		}
	case event.MsgDeliveredName:
		if p, ok := decode[event.MsgDelivered](h, env); ok {
			h.coordinator.Delivered(ctx, p)
		}
	case event.MsgSeenName:
		if p, ok := decode[event.MsgSeen](h, env); ok {
			h.coordinator.Seen(ctx, c.UserID(), p)
		}
	case event.TypingStartName:
		if p, ok := decode[event.Typing](h, env); ok {
			h.rooms.Broadcast(p.ConversationID, event.TypingStartName,
				event.TypingNotice{UserID: c.UserID(), ConversationID: p.ConversationID}, c.ID())
		}
	case event.TypingStopName:
		if p, ok := decode[event.Typing](h, env); ok {
			h.rooms.Broadcast(p.ConversationID, event.TypingStopName,
				event.TypingNotice{UserID: c.UserID(), ConversationID: p.ConversationID}, c.ID())
		}
	case event.CallUserName:
		if p, ok := decode[event.CallUser](h, env); ok {
			h.relay.CallUser(p)
		}
	case event.AnswerCallName:
		if p, ok := decode[event.AnswerCall](h, env); ok {
			h.relay.AnswerCall(p)
		}
	case event.ICECandidateName:
		if p, ok := decode[event.ICECandidate](h, env); ok {
			h.relay.ICECandidate(p)
		}
	case event.EndCallName:
		if p, ok := decode[event.EndCall](h, env); ok {
			h.relay.EndCall(p)
		}
	default:
		h.log.Warn("unknown event", slog.String("event", env.Event))
	}
}

func decode[T any](h *Hub, env event.Envelope) (T, bool) {
	var p T
	if err := json.Unmarshal(env.Data, &p); err != nil {
		h.log.Debug("bad payload",
			slog.String("event", env.Event),
			slog.String("err", err.Error()))
		var zero T
		return zero, false
	}
	return p, true
}
