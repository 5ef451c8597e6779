package media

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// Source - откуда берется видео
type Source string

const (
	SourceCamera Source = "camera"
	SourceScreen Source = "screen"
)

// Constraints - что запрашивается у Acquirer
type Constraints struct {
	Source Source
	Video  bool
	Audio  bool
}

// Stream - локальный поток: не больше одной дорожки каждого вида
type Stream struct {
	ID     string
	Source Source

	tracks map[webrtc.RTPCodecType]webrtc.TrackLocal

	stopOnce sync.Once
	stop     func()
}

func NewStream(id string, source Source, stop func(), tracks ...webrtc.TrackLocal) *Stream {
	s := &Stream{
		ID:     id,
		Source: source,
		tracks: make(map[webrtc.RTPCodecType]webrtc.TrackLocal, len(tracks)),
		stop:   stop,
	}

	for _, track := range tracks {
		s.tracks[track.Kind()] = track
	}

	return s
}

// Track - дорожка вида kind, nil если ее нет
func (s *Stream) Track(kind webrtc.RTPCodecType) webrtc.TrackLocal {
	if s == nil {
		return nil
	}

	return s.tracks[kind]
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}

	tracks := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, kind := range Kinds {
		if track, ok := s.tracks[kind]; ok {
			tracks = append(tracks, track)
		}
	}

	return tracks
}

// Stop останавливает источник. Повторные вызовы ничего не делают
func (s *Stream) Stop() {
	if s == nil || s.stop == nil {
		return
	}

	s.stopOnce.Do(s.stop)
}

// Kinds - виды дорожек в порядке добавления в соединение
var Kinds = []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
