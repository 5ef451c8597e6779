package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
)

// TrackStats - итог чтения одной входящей дорожки
type TrackStats struct {
	ParticipantID string
	TrackID       string
	Kind          webrtc.RTPCodecType
	MimeType      string
	Packets       int
	Bytes         int
	Lost          int
	File          string
}

// Recorder читает входящие дорожки до конца и, если задан каталог, пишет их на диск
type Recorder struct {
	dir string
}

func NewRecorder(dir string) *Recorder {
	return &Recorder{dir: dir}
}

// Consume блокируется, пока дорожка не закончится
func (r *Recorder) Consume(participantID string, track peer.RemoteTrack) (TrackStats, error) {
	stats := TrackStats{
		ParticipantID: participantID,
		TrackID:       track.ID(),
		Kind:          track.Kind(),
		MimeType:      track.Codec().MimeType,
	}

	writer, file, err := r.writerFor(participantID, track)
	if err != nil {
		return stats, err
	}

	stats.File = file

	var (
		lastSeq uint16
		started bool
	)

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if writer != nil {
				if closeErr := writer.Close(); closeErr != nil {
					slog.Warn("close recording", slog.Any(constant.Error, closeErr), slog.String("file", file))
				}
			}

			if errors.Is(err, io.EOF) {
				return stats, nil
			}

			return stats, fmt.Errorf("read rtp: %w", err)
		}

		if started && pkt.SequenceNumber != lastSeq+1 {
			stats.Lost += int(pkt.SequenceNumber - lastSeq - 1)
		}

		lastSeq, started = pkt.SequenceNumber, true
		stats.Packets++
		stats.Bytes += len(pkt.Payload)

		if writer != nil {
			if err := writer.WriteRTP(pkt); err != nil {
				slog.Debug("write rtp to recording", slog.Any(constant.Error, err))
			}
		}
	}
}

func (r *Recorder) writerFor(participantID string, track peer.RemoteTrack) (pionmedia.Writer, string, error) {
	if r.dir == "" {
		return nil, "", nil
	}

	mime := track.Codec().MimeType
	base := filepath.Join(r.dir, fmt.Sprintf("%s-%s", participantID, track.ID()))

	switch {
	case strings.EqualFold(mime, webrtc.MimeTypeOpus):
		file := base + ".ogg"

		w, err := oggwriter.New(file, 48000, 2)
		if err != nil {
			return nil, "", fmt.Errorf("create ogg writer: %w", err)
		}

		return w, file, nil

	case ivfCodec(mime) != "":
		file := base + ".ivf"

		w, err := ivfwriter.New(file, ivfwriter.WithCodec(ivfCodec(mime)))
		if err != nil {
			return nil, "", fmt.Errorf("create ivf writer: %w", err)
		}

		return w, file, nil

	default:
		slog.Warn("codec cannot be recorded", slog.String("codec", mime), slog.String(constant.ParticipantID, participantID))

		return nil, "", nil
	}
}

// ivfCodec - каноничный mime для ivfwriter, пусто если кодек в IVF не пишется
func ivfCodec(mime string) string {
	for _, known := range []string{webrtc.MimeTypeVP8, webrtc.MimeTypeVP9, webrtc.MimeTypeAV1} {
		if strings.EqualFold(mime, known) {
			return known
		}
	}

	return ""
}
