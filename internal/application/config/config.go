package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

// RelayConfig - настройки сервера relay
type RelayConfig struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3001"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9091"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// MaxMessageBytes - ограничение на размер входящего кадра websocket
	MaxMessageBytes int64 `env:"MAX_MESSAGE_BYTES" envDefault:"65536"`
	// MessagesPerSecond - лимит входящих сообщений на одно соединение, burst вдвое больше
	MessagesPerSecond float64 `env:"MESSAGES_PER_SECOND" envDefault:"50"`
	SendQueueSize     int     `env:"SEND_QUEUE_SIZE" envDefault:"64"`
}

// ClientConfig - настройки участника (команда join)
type ClientConfig struct {
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	RelayURL string `env:"RELAY_URL" envDefault:"ws://localhost:3001/ws"`
	Msgpack  bool   `env:"RELAY_MSGPACK" envDefault:"false"`

	RoomID   string `env:"ROOM_ID"`
	UserID   string `env:"USER_ID"`
	UserName string `env:"USER_NAME"`
	Role     string `env:"ROLE" envDefault:"guest"`

	ICEServers []string `env:"ICE_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302,stun:stun2.l.google.com:19302"`

	ConnectTimeout     time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	DialRetries        uint64        `env:"DIAL_RETRIES" envDefault:"3"`
	RetryDelay         time.Duration `env:"RETRY_DELAY" envDefault:"3s"`
	PeerConnectTimeout time.Duration `env:"PEER_CONNECT_TIMEOUT" envDefault:"15s"`
	FailureGrace       time.Duration `env:"FAILURE_GRACE" envDefault:"5s"`
	MaxSessionRetries  uint64        `env:"MAX_SESSION_RETRIES" envDefault:"3"`
	SessionRetryDelay  time.Duration `env:"SESSION_RETRY_DELAY" envDefault:"1s"`

	// ApprovalRequired - камера и микрофон ролей без прав по умолчанию выключены до разрешения
	ApprovalRequired bool `env:"APPROVAL_REQUIRED" envDefault:"false"`

	VideoFile       string        `env:"VIDEO_FILE"`
	ScreenFile      string        `env:"SCREEN_FILE"`
	AudioFile       string        `env:"AUDIO_FILE"`
	MediaRetryDelay time.Duration `env:"MEDIA_RETRY_DELAY" envDefault:"2s"`
	RecordDir       string        `env:"RECORD_DIR"`
}

func NewRelay() (*RelayConfig, error) {
	c, err := env.ParseAs[RelayConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}

func NewClient() (*ClientConfig, error) {
	c, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	return &c, nil
}

// WebrtcICEServers - список ICE серверов для pion
func (c *ClientConfig) WebrtcICEServers() []webrtc.ICEServer {
	if len(c.ICEServers) == 0 {
		return nil
	}

	return []webrtc.ICEServer{{URLs: c.ICEServers}}
}
