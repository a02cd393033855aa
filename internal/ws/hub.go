package ws

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
)

// Event types broadcast to driver reconciliation rooms.
const (
	EventSalesCommitted   = "sales_committed"
	EventSummaryFinalized = "summary_finalized"
	EventSummaryUnlocked  = "summary_unlocked"
)

// Event represents a WebSocket message to be broadcast
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// driverEvent is an internal struct for routing events to specific drivers
type driverEvent struct {
	DriverID uuid.UUID
	Event    Event
}

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	// Registered clients by driver ID
	rooms map[uuid.UUID]map[*Client]bool

	// Inbound messages from clients (register/unregister)
	register   chan *Client
	unregister chan *Client

	// Outbound messages to broadcast
	broadcast chan *driverEvent

	// Mutex for thread-safe room access
	mu sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[uuid.UUID]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *driverEvent, 256),
	}
}

// Run starts the hub's main loop
// This should be called as a goroutine: go hub.Run()
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			if h.rooms[client.driverID] == nil {
				h.rooms[client.driverID] = make(map[*Client]bool)
			}
			h.rooms[client.driverID][client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.rooms[client.driverID]; ok {
				if _, exists := clients[client]; exists {
					delete(clients, client)
					close(client.send)
					// Clean up empty rooms
					if len(clients) == 0 {
						delete(h.rooms, client.driverID)
					}
				}
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			h.mu.Lock()
			clients := h.rooms[event.DriverID]

			// Marshal event to JSON once
			message, err := json.Marshal(event.Event)
			if err != nil {
				h.mu.Unlock()
				continue
			}

			// Send to all clients in this driver's room
			for client := range clients {
				select {
				case client.send <- message:
				default:
					// Client's send buffer is full, close and unregister
					close(client.send)
					delete(h.rooms[event.DriverID], client)
					if len(h.rooms[event.DriverID]) == 0 {
						delete(h.rooms, event.DriverID)
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

// BroadcastToDriver sends an event to all clients watching a driver's day.
// This is the public API for handlers to broadcast events.
func (h *Hub) BroadcastToDriver(driverID uuid.UUID, event Event) {
	h.broadcast <- &driverEvent{
		DriverID: driverID,
		Event:    event,
	}
}
