package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/cloudhw/proto"
)

const writeWait = 10 * time.Second

// WSClient is a hub party connected over the SignalR WebSocket transport.
type WSClient struct {
	ClientMetadata
	conn  *websocket.Conn
	token string

	wmu    sync.Mutex
	cursor atomic.Uint64
}

func NewWSClient(conn *websocket.Conn, t Transport, n negotiation) *WSClient {
	now := time.Now()
	return &WSClient{
		conn:  conn,
		token: n.token,
		ClientMetadata: ClientMetadata{
			Id:          n.id,
			Name:        n.userName,
			ConnectedAt: now,
			LastSeen:    now,
			Transport:   t,
		},
	}
}

// Send invokes send(from, message) on the connected party.
func (c *WSClient) Send(from string, message string) error {
	fromArg, err := json.Marshal(from)
	if err != nil {
		return err
	}
	msgArg, err := json.Marshal(message)
	if err != nil {
		return err
	}

	err = c.writeJSON(proto.HubMessage{
		C: fmt.Sprintf("d-%s-%d", c.Id[len(c.Id)-4:], c.cursor.Add(1)),
		M: []proto.HubInvocation{{
			H: proto.HubName,
			M: "send",
			A: []json.RawMessage{fromArg, msgArg},
		}},
	})
	if err != nil {
		return err
	}

	slog.Debug("Sent hub message", "to", c.Name, "from", from, "size", len(message))
	return nil
}

func (c *WSClient) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.writeRaw(data)
}

func (c *WSClient) writeRaw(data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *WSClient) Close() error {
	c.wmu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
	c.wmu.Unlock()
	return c.conn.Close()
}

func (c *WSClient) Meta() *ClientMetadata {
	return &c.ClientMetadata
}
