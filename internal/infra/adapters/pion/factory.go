package pion

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

// Factory создает соединения pion с общими кодеками, интерцепторами и логгером
type Factory struct {
	api    *webrtc.API
	config webrtc.Configuration
}

func NewFactory(iceServers []webrtc.ICEServer, log *slog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: NewLoggerFactory(log)}

	return &Factory{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: webrtc.Configuration{ICEServers: iceServers},
	}, nil
}

func (f *Factory) NewPeerConnection() (peer.PeerConnection, error) {
	pc, err := f.api.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	return &peerConnection{pc: pc}, nil
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) CreateOffer(iceRestart bool) (webrtc.SessionDescription, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}

	offer, err := p.pc.CreateOffer(opts)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create offer: %w", err)
	}

	if err = p.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local offer: %w", err)
	}

	return offer, nil
}

func (p *peerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("create answer: %w", err)
	}

	if err = p.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("set local answer: %w", err)
	}

	return answer, nil
}

func (p *peerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *peerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *peerConnection) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

func (p *peerConnection) ConnectionState() webrtc.PeerConnectionState {
	return p.pc.ConnectionState()
}

func (p *peerConnection) HasRemoteDescription() bool {
	return p.pc.RemoteDescription() != nil
}

func (p *peerConnection) AddSender(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (peer.TrackSender, error) {
	transceiver, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	})
	if err != nil {
		return nil, fmt.Errorf("add %s transceiver: %w", kind, err)
	}

	// pion создает для transceiver пустую дорожку, в нее никто не пишет
	sender := &trackSender{
		sender:      transceiver.Sender(),
		placeholder: transceiver.Sender().Track(),
	}

	if track != nil {
		if err = sender.ReplaceTrack(track); err != nil {
			return nil, fmt.Errorf("attach %s track: %w", kind, err)
		}
	}

	// RTCP нужно вычитывать, иначе интерцепторы не работают
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.sender.Read(buf); err != nil {
				return
			}
		}
	}()

	return sender, nil
}

func (p *peerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}

		fn(c.ToJSON())
	})
}

func (p *peerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

func (p *peerConnection) OnTrack(fn func(peer.RemoteTrack)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Debug(
			"remote track",
			slog.String("track_id", track.ID()),
			slog.String(constant.Kind, track.Kind().String()),
			slog.String("codec", track.Codec().MimeType),
		)

		fn(track)
	})
}

func (p *peerConnection) Close() error {
	if err := p.pc.Close(); err != nil && !errors.Is(err, webrtc.ErrConnectionClosed) {
		return fmt.Errorf("close peer connection: %w", err)
	}

	return nil
}

// trackSender подменяет nil на пустую дорожку: у отправителя без дорожки pion
// не может начать передачу после согласования
type trackSender struct {
	sender      *webrtc.RTPSender
	placeholder webrtc.TrackLocal
}

func (s *trackSender) ReplaceTrack(track webrtc.TrackLocal) error {
	if track == nil {
		track = s.placeholder
	}

	return s.sender.ReplaceTrack(track)
}
