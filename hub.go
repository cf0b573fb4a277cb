package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WSMessage is a command sent by a client.
type WSMessage struct {
	Action  string     `json:"action"`
	Channel string     `json:"channel,omitempty"`
	Targets []PlayerID `json:"targets,omitempty"`
	Roles   []string   `json:"roles,omitempty"`
}

// Client represents a websocket connection with player info
type Client struct {
	conn    *websocket.Conn
	player  Player
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
}

// Hub tracks websocket connections and implements Notifier and Solicitor over them.
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup

	// members lists the players seated in a channel; handle runs an inbound command.
	members func(channel string) []PlayerID
	handle  func(ctx context.Context, player Player, msg WSMessage) error
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

// start launches the hub goroutine
func (h *Hub) start() {
	h.wg.Add(1)
	go h.run()
}

// stop signals the hub goroutine to exit and waits for it to finish
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
}

// sendToPlayer writes message to every connection of the player and reports how many got it.
func (h *Hub) sendToPlayer(playerID PlayerID, message []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	sent := 0
	for _, client := range h.clients {
		if client.player.ID != playerID {
			continue
		}
		LogWSMessage("OUT", client.player.Name, string(message))

		client.writeMu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, message)
		client.writeMu.Unlock()

		if err != nil {
			log.Printf("WebSocket write error to player %d: %v", playerID, err)
			continue
		}
		sent++
	}
	return sent
}

// Notify delivers msg to one player, or to every seated player of the channel.
func (h *Hub) Notify(ctx context.Context, to Recipient, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg.Channel = to.Channel
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if to.Player != 0 {
		if h.sendToPlayer(to.Player, data) == 0 {
			return fmt.Errorf("player %d has no open connection: %w", to.Player, ErrNotFound)
		}
		return nil
	}
	if h.members == nil {
		return nil
	}
	for _, id := range h.members(to.Channel) {
		h.sendToPlayer(id, data)
	}
	return nil
}

// Solicit sends a prompt; the answer comes back as an inbound command.
func (h *Hub) Solicit(ctx context.Context, to Recipient, p Prompt) error {
	return h.Notify(ctx, to, renderPrompt(p))
}

func (h *Hub) connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			h.mu.Unlock()
			log.Printf("WebSocket client connected (player %d: %s). Total: %d", client.player.ID, client.player.Name, h.connected())

		case conn := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				delete(h.clients, conn)
				conn.Close()
				DebugLog("hub.unregister: player '%s' (ID: %d) disconnected", client.player.Name, client.player.ID)
			}
			h.mu.Unlock()
			log.Printf("WebSocket client disconnected. Total: %d", h.connected())
		}
	}
}

// serveWS upgrades an authenticated request and reads commands until the client goes away.
func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request, player Player) {
	var upgrader = websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error for player %d (%s): %v", player.ID, player.Name, err)
		return
	}

	DebugLog("serveWS: player '%s' (ID: %d) connected", player.Name, player.ID)
	client := &Client{conn: conn, player: player}
	h.register <- client

	go func() {
		defer func() {
			h.unregister <- conn
		}()
		ctx := context.Background()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				break
			}
			h.dispatch(ctx, player, message)
		}
	}()
}

func (h *Hub) dispatch(ctx context.Context, player Player, message []byte) {
	var msg WSMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("WebSocket unmarshal error for player %d: %v", player.ID, err)
		return
	}
	LogWSMessage("IN", player.Name, string(message))

	if h.handle == nil {
		return
	}
	if err := h.handle(ctx, player, msg); err != nil {
		log.Printf("Command %s from %s in %q rejected: %v", msg.Action, player.Name, msg.Channel, err)
		sendErrorToast(ctx, h, Recipient{Channel: msg.Channel, Player: player.ID}, rejection(err))
	}
}
