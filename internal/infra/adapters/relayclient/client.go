package relayclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	queueSize      = 64
)

var ErrClosed = errors.New("relay connection closed")

// Client - websocket соединение участника с relay
type Client struct {
	conn  *websocket.Conn
	codec events.Codec

	incoming chan events.Event
	outgoing chan events.Event
	done     chan struct{}

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu  sync.Mutex
	err error
}

// Dial подключается к relay. msgpack - запросить бинарный формат
func Dial(ctx context.Context, url string, msgpack bool) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: writeWait,
		Subprotocols:     []string{events.SubprotocolJSON},
	}
	if msgpack {
		dialer.Subprotocols = []string{events.SubprotocolMsgpack, events.SubprotocolJSON}
	}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}

	c := &Client{
		conn:     conn,
		codec:    events.CodecFor(conn.Subprotocol()),
		incoming: make(chan events.Event, queueSize),
		outgoing: make(chan events.Event, queueSize),
		done:     make(chan struct{}),
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.wg.Add(2)
	go c.readPump()
	go c.writePump()

	return c, nil
}

// Send ставит событие в очередь на отправку
func (c *Client) Send(ev events.Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.outgoing <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Incoming закрывается, когда соединение оборвалось или закрыто
func (c *Client) Incoming() <-chan events.Event {
	return c.incoming
}

// Err - причина обрыва, nil после Close
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

func (c *Client) Codec() events.Codec {
	return c.codec
}

// Close закрывает соединение и ждет завершения горутин чтения и записи
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()

	return nil
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() { close(c.done) })
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()

	c.shutdown()
}

func (c *Client) readPump() {
	defer func() {
		close(c.incoming)
		c.wg.Done()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.fail(fmt.Errorf("read relay: %w", err))
			}

			return
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		ev, err := c.codec.Decode(raw)
		if err != nil {
			slog.Warn("decode relay message", slog.Any(constant.Error, err))
			continue
		}

		select {
		case c.incoming <- ev:
		case <-c.done:
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.wg.Done()
	}()

	frame := websocket.TextMessage
	if c.codec.Binary() {
		frame = websocket.BinaryMessage
	}

	for {
		select {
		case ev := <-c.outgoing:
			raw, err := c.codec.Encode(ev)
			if err != nil {
				slog.Error("encode relay message", slog.Any(constant.Error, err), slog.String(constant.MessageType, string(ev.Type())))
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(frame, raw); err != nil {
				c.fail(fmt.Errorf("write relay: %w", err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.fail(fmt.Errorf("ping relay: %w", err))
				return
			}

		case <-c.done:
			c.flush(frame)

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			return
		}
	}
}

// flush дописывает то, что уже стоит в очереди (например leave-room перед Close)
func (c *Client) flush(frame int) {
	for {
		select {
		case ev := <-c.outgoing:
			raw, err := c.codec.Encode(ev)
			if err != nil {
				continue
			}

			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err = c.conn.WriteMessage(frame, raw); err != nil {
				return
			}
		default:
			return
		}
	}
}
