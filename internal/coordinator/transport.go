package coordinator

import (
	"context"

	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/relayclient"
)

// Transport - соединение с relay. Incoming закрывается при обрыве
type Transport interface {
	Send(events.Event) error
	Incoming() <-chan events.Event
	Close() error
}

type DialFunc func(ctx context.Context) (Transport, error)

// RelayDialer - подключение к relay по websocket
func RelayDialer(url string, msgpack bool) DialFunc {
	return func(ctx context.Context) (Transport, error) {
		client, err := relayclient.Dial(ctx, url, msgpack)
		if err != nil {
			return nil, err
		}

		return client, nil
	}
}
