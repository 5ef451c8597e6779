package media

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestPolicyDefaults(t *testing.T) {
	tests := []struct {
		role     Role
		approval bool
		video    bool
		audio    bool
	}{
		{RoleGuest, true, false, false},
		{RoleVisitor, true, false, false},
		{RoleMod, true, true, true},
		{RoleCreator, true, true, true},
		{RoleAdmin, true, true, true},
		{RoleGuest, false, true, true},
	}

	for _, tt := range tests {
		p := NewPolicy(tt.role, tt.approval)

		if got := p.Allowed(webrtc.RTPCodecTypeVideo); got != tt.video {
			t.Errorf("%s approval=%v: video = %v", tt.role, tt.approval, got)
		}

		if got := p.Allowed(webrtc.RTPCodecTypeAudio); got != tt.audio {
			t.Errorf("%s approval=%v: audio = %v", tt.role, tt.approval, got)
		}
	}
}

func TestPolicyGrant(t *testing.T) {
	p := NewPolicy(ParseRole("visitor"), true)

	if !p.Grant(webrtc.RTPCodecTypeAudio) {
		t.Fatal("first grant must report a change")
	}

	if p.Grant(webrtc.RTPCodecTypeAudio) {
		t.Fatal("second grant must be a no-op")
	}

	if !p.Allowed(webrtc.RTPCodecTypeAudio) || p.Allowed(webrtc.RTPCodecTypeVideo) {
		t.Fatal("only audio must be granted")
	}

	p.Revoke(webrtc.RTPCodecTypeAudio)

	if p.Allowed(webrtc.RTPCodecTypeAudio) {
		t.Fatal("audio must be revoked")
	}
}

func TestParseRole(t *testing.T) {
	if ParseRole("admin") != RoleAdmin || ParseRole("superuser") != RoleGuest {
		t.Fatal("unexpected role parsing")
	}
}
