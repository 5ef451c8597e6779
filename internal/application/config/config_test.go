package config

import (
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	t.Setenv("ROOM_ID", "table-1")

	cfg, err := NewClient()
	if err != nil {
		t.Fatalf("new client config: %v", err)
	}

	if cfg.RoomID != "table-1" {
		t.Fatalf("room = %q", cfg.RoomID)
	}

	if cfg.ConnectTimeout != 10*time.Second || cfg.PeerConnectTimeout != 15*time.Second {
		t.Fatalf("unexpected timeouts %v %v", cfg.ConnectTimeout, cfg.PeerConnectTimeout)
	}

	servers := cfg.WebrtcICEServers()
	if len(servers) != 1 || len(servers[0].URLs) != 3 {
		t.Fatalf("unexpected ice servers %+v", servers)
	}
}

func TestNewRelayOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("MESSAGES_PER_SECOND", "5")

	cfg, err := NewRelay()
	if err != nil {
		t.Fatalf("new relay config: %v", err)
	}

	if cfg.Port != "4000" || cfg.MessagesPerSecond != 5 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewRelayInvalid(t *testing.T) {
	t.Setenv("SEND_QUEUE_SIZE", "many")

	if _, err := NewRelay(); err == nil {
		t.Fatal("expected parse error")
	}
}
