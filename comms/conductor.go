package comms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/CodedInternet/gopneumatic/rig"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 30 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512

	UPDATE_INTERVAL = 100 * time.Millisecond
)

var ErrUnknownCommand = errors.New("unknown command")

// Cmd is what a client sends. Name carries the text argument, Value the numeric one.
type Cmd struct {
	Cmd   string  `json:"cmd"`
	Name  string  `json:"name,omitempty"`
	Value float64 `json:"value,omitempty"`
}

// Controller is the part of a session remote clients may drive.
type Controller interface {
	Status() rig.Status
	Stop()
	SetDescription(description string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Conductor pushes session status to every connected websocket client and runs their commands.
type Conductor struct {
	Session Controller

	logger  *zap.SugaredLogger
	lock    sync.Mutex
	clients map[*Client]bool
}

type Client struct {
	conn      *websocket.Conn
	send      chan []byte
	conductor *Conductor
	logger    *zap.SugaredLogger
}

func NewConductor(session Controller, logger *zap.SugaredLogger) (c *Conductor) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c = new(Conductor)
	c.Session = session
	c.logger = logger
	c.clients = make(map[*Client]bool)
	return c
}

// ServeHTTP upgrades the request and keeps the client until it goes away.
func (c *Conductor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warnw("unable to upgrade websocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	client := &Client{
		conn:      conn,
		send:      make(chan []byte, 256),
		conductor: c,
		logger:    c.logger,
	}
	c.register(client)
	go client.writer()
	client.reader()
	c.unregister(client)
}

func (c *Conductor) register(client *Client) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.clients[client] = true
	c.logger.Debugw("client connected", "remote", client.conn.RemoteAddr(), "clients", len(c.clients))
}

func (c *Conductor) unregister(client *Client) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.clients[client] {
		delete(c.clients, client)
		close(client.send)
	}
}

func (c *Conductor) Clients() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.clients)
}

// Broadcast sends v to every client. Clients that are not keeping up miss the message.
func (c *Conductor) Broadcast(v interface{}) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	for client := range c.clients {
		select {
		case client.send <- msg:
		default:
			c.logger.Debugw("dropping update for slow client", "remote", client.conn.RemoteAddr())
		}
	}
	return nil
}

// deliver queues msg for one client unless it has already gone.
func (c *Conductor) deliver(client *Client, msg []byte) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if !c.clients[client] {
		return
	}
	select {
	case client.send <- msg:
	default:
	}
}

func (c *Conductor) ProcessCommand(cmd Cmd) (reply interface{}, err error) {
	switch cmd.Cmd {
	case "status":
		return NewStatePayload(c.Session.Status()), nil

	case "stop":
		c.logger.Infow("stop requested by client")
		c.Session.Stop()
		return NewStatePayload(c.Session.Status()), nil

	case "describe":
		c.Session.SetDescription(cmd.Name)
		return nil, nil

	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Cmd)
	}
}

// UpdateClients broadcasts the session status every interval until ctx is done, then closes
// every client.
func (c *Conductor) UpdateClients(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.closeAll()
			return
		case <-ticker.C:
			if c.Clients() == 0 {
				continue
			}
			if err := c.Broadcast(NewStatePayload(c.Session.Status())); err != nil {
				c.logger.Errorw("unable to broadcast status", "error", err)
			}
		}
	}
}

func (c *Conductor) closeAll() {
	c.lock.Lock()
	defer c.lock.Unlock()
	for client := range c.clients {
		delete(c.clients, client)
		close(client.send)
	}
}

func (client *Client) reader() {
	defer client.conn.Close()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				client.logger.Debugw("client read failed", "error", err)
			}
			return
		}
		client.receiveMessage(msg)
	}
}

func (client *Client) receiveMessage(msg []byte) {
	var cmd Cmd
	var reply interface{}
	err := json.Unmarshal(msg, &cmd)
	if err == nil {
		reply, err = client.conductor.ProcessCommand(cmd)
	}
	if err != nil {
		reply = NewErrorPayload(err)
	}
	if reply == nil {
		return
	}

	out, err := json.Marshal(reply)
	if err != nil {
		client.logger.Errorw("unable to marshal reply", "error", err)
		return
	}
	client.conductor.deliver(client, out)
}

func (client *Client) writer() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The conductor closed the channel.
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
