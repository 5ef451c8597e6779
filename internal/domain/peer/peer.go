package peer

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

var ErrMalformedDescription = errors.New("malformed session description")

// PeerConnection - соединение с одним удаленным участником. Реализация поверх pion
// лежит в infra/adapters/pion
type PeerConnection interface {
	// CreateOffer создает offer и выставляет его локальным описанием
	CreateOffer(iceRestart bool) (webrtc.SessionDescription, error)
	// CreateAnswer создает answer и выставляет его локальным описанием
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error

	SignalingState() webrtc.SignalingState
	ConnectionState() webrtc.PeerConnectionState
	HasRemoteDescription() bool

	// AddSender добавляет отправителя вида kind. track может быть nil, тогда
	// отправитель молчит до ReplaceTrack
	AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (TrackSender, error)

	// OnICECandidate - nil кандидат не передается
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))

	Close() error
}

// TrackSender - отправитель одной дорожки. ReplaceTrack(nil) выключает отправку
// без повторного согласования
type TrackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
}

// RemoteTrack - входящая дорожка, *webrtc.TrackRemote
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type Factory interface {
	NewPeerConnection() (PeerConnection, error)
}

// ValidateDescription проверяет, что SDP разбирается
func ValidateDescription(desc webrtc.SessionDescription) error {
	if desc.Type != webrtc.SDPTypeOffer && desc.Type != webrtc.SDPTypeAnswer {
		return fmt.Errorf("%w: unexpected type %s", ErrMalformedDescription, desc.Type)
	}

	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedDescription, err)
	}

	return nil
}

// Fingerprint - DTLS отпечаток из SDP, пустой если его нет. Новое соединение
// получает новый сертификат, поэтому смена отпечатка означает новое соединение
// на удаленной стороне
func Fingerprint(desc webrtc.SessionDescription) string {
	var parsed sdp.SessionDescription
	if err := parsed.UnmarshalString(desc.SDP); err != nil {
		return ""
	}

	if fp, ok := parsed.Attribute("fingerprint"); ok {
		return fp
	}

	for _, m := range parsed.MediaDescriptions {
		if fp, ok := m.Attribute("fingerprint"); ok {
			return fp
		}
	}

	return ""
}
