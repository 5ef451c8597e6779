package handlers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

// wsClient - исходящая сторона соединения: ограниченная очередь и одна горутина записи
type wsClient struct {
	id    string
	conn  *websocket.Conn
	codec events.Codec

	send chan events.Event
	done chan struct{}
	once sync.Once
}

func newWSClient(id string, conn *websocket.Conn, codec events.Codec, queueSize int) *wsClient {
	return &wsClient{
		id:    id,
		conn:  conn,
		codec: codec,
		send:  make(chan events.Event, queueSize),
		done:  make(chan struct{}),
	}
}

func (c *wsClient) Send(ev events.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

func (c *wsClient) close() {
	c.once.Do(func() { close(c.done) })
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.close()
		c.conn.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			if err := c.write(ev); err != nil {
				slog.Error(
					"write to websocket",
					slog.Any(constant.Error, err),
					slog.String(constant.ConnectionID, c.id),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				slog.Debug("ping failed", slog.Any(constant.Error, err), slog.String(constant.ConnectionID, c.id))
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return
		}
	}
}

func (c *wsClient) write(ev events.Event) error {
	raw, err := c.codec.Encode(ev)
	if err != nil {
		return err
	}

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	return c.conn.WriteMessage(frame, raw)
}
