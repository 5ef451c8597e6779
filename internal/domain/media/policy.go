package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

type Role string

const (
	RoleGuest   Role = "guest"
	RoleVisitor Role = "visitor"
	RoleMod     Role = "mod"
	RoleCreator Role = "creator"
	RoleAdmin   Role = "admin"
)

func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleVisitor, RoleMod, RoleCreator, RoleAdmin:
		return r
	default:
		return RoleGuest
	}
}

// CanUseCameraByDefault - камера без одобрения модератора
func CanUseCameraByDefault(r Role) bool {
	return r == RoleAdmin || r == RoleMod || r == RoleCreator
}

// CanSpeakByDefault - микрофон без одобрения модератора
func CanSpeakByDefault(r Role) bool {
	return r == RoleAdmin || r == RoleMod || r == RoleCreator
}

// Policy - какие локальные дорожки можно отправлять. Без ApprovalRequired разрешено все
type Policy struct {
	approvalRequired bool

	mu      sync.RWMutex
	granted map[webrtc.RTPCodecType]bool
}

func NewPolicy(role Role, approvalRequired bool) *Policy {
	return &Policy{
		approvalRequired: approvalRequired,
		granted: map[webrtc.RTPCodecType]bool{
			webrtc.RTPCodecTypeVideo: CanUseCameraByDefault(role),
			webrtc.RTPCodecTypeAudio: CanSpeakByDefault(role),
		},
	}
}

func (p *Policy) Allowed(kind webrtc.RTPCodecType) bool {
	if p == nil || !p.approvalRequired {
		return true
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.granted[kind]
}

// Grant разрешает вид дорожки. Возвращает false, если он уже был разрешен
func (p *Policy) Grant(kind webrtc.RTPCodecType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.granted[kind] {
		return false
	}

	p.granted[kind] = true

	return true
}

// Revoke запрещает вид дорожки. Возвращает false, если он уже был запрещен
func (p *Policy) Revoke(kind webrtc.RTPCodecType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.granted[kind] {
		return false
	}

	p.granted[kind] = false

	return true
}
