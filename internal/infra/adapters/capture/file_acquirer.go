package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/domain/media"
)

const (
	vp8FourCC       = "VP80"
	oggPageDuration = 20 * time.Millisecond
	opusSampleRate  = 48000
)

var (
	errSourceBusy  = errors.New("source is already streaming")
	errEmptySource = errors.New("source has no frames")
)

// FileAcquirer - камера и демонстрация экрана из IVF (VP8) файлов, микрофон из OGG (Opus).
// Файл проигрывается по кругу, один файл может отдавать только один поток
type FileAcquirer struct {
	videoFiles map[media.Source]string
	audioFile  string

	mu    sync.Mutex
	inUse map[string]bool
}

func NewFileAcquirer(cameraFile, screenFile, audioFile string) *FileAcquirer {
	return &FileAcquirer{
		videoFiles: map[media.Source]string{
			media.SourceCamera: cameraFile,
			media.SourceScreen: screenFile,
		},
		audioFile: audioFile,
		inUse:     make(map[string]bool),
	}
}

func (a *FileAcquirer) Acquire(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if !c.Video && !c.Audio {
		return nil, media.NewAcquisitionError(media.CauseConstraintsUnsatisfiable, errors.New("neither video nor audio requested"))
	}

	if err := ctx.Err(); err != nil {
		return nil, media.NewAcquisitionError(media.CauseUnknown, err)
	}

	var paths []string

	if c.Video {
		path := a.videoFiles[c.Source]
		if path == "" {
			return nil, media.NewAcquisitionError(media.CauseNotFound, fmt.Errorf("no %s source configured", c.Source))
		}

		paths = append(paths, path)
	}

	if c.Audio {
		if a.audioFile == "" {
			return nil, media.NewAcquisitionError(media.CauseNotFound, errors.New("no audio source configured"))
		}

		paths = append(paths, a.audioFile)
	}

	if err := a.lock(paths); err != nil {
		return nil, err
	}

	streamID := uuid.NewString()
	pumpCtx, cancel := context.WithCancel(context.Background())

	var (
		wg     sync.WaitGroup
		tracks []webrtc.TrackLocal
		files  []*os.File
	)

	release := func() {
		cancel()
		wg.Wait()

		for _, f := range files {
			f.Close()
		}

		a.unlock(paths)
	}

	if c.Video {
		f, track, err := openVideo(a.videoFiles[c.Source], streamID)
		if err != nil {
			release()
			return nil, err
		}

		files = append(files, f)
		tracks = append(tracks, track)

		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(pumpCtx, "video", func(ctx context.Context) error { return pumpIVF(ctx, f, track) })
		}()
	}

	if c.Audio {
		f, track, err := openAudio(a.audioFile, streamID)
		if err != nil {
			release()
			return nil, err
		}

		files = append(files, f)
		tracks = append(tracks, track)

		wg.Add(1)
		go func() {
			defer wg.Done()
			pump(pumpCtx, "audio", func(ctx context.Context) error { return pumpOgg(ctx, f, track) })
		}()
	}

	slog.Info(
		"media stream acquired",
		slog.String("stream_id", streamID),
		slog.String(constant.Kind, string(c.Source)),
		slog.Int("tracks", len(tracks)),
	)

	return media.NewStream(streamID, c.Source, release, tracks...), nil
}

func (a *FileAcquirer) Release(s *media.Stream) error {
	s.Stop()

	return nil
}

func (a *FileAcquirer) lock(paths []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, path := range paths {
		if a.inUse[path] {
			return media.NewAcquisitionError(media.CauseInUse, fmt.Errorf("%s: %w", path, errSourceBusy))
		}
	}

	for _, path := range paths {
		a.inUse[path] = true
	}

	return nil
}

func (a *FileAcquirer) unlock(paths []string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, path := range paths {
		delete(a.inUse, path)
	}
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, media.NewAcquisitionError(media.CauseNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return nil, media.NewAcquisitionError(media.CausePermissionDenied, err)
	default:
		return nil, media.NewAcquisitionError(media.CauseUnknown, err)
	}
}

func openVideo(path, streamID string) (*os.File, *webrtc.TrackLocalStaticSample, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}

	_, header, err := ivfreader.NewWith(f)
	if err != nil {
		f.Close()
		return nil, nil, media.NewAcquisitionError(media.CauseConstraintsUnsatisfiable, fmt.Errorf("read ivf header: %w", err))
	}

	if header.FourCC != vp8FourCC {
		f.Close()
		return nil, nil, media.NewAcquisitionError(media.CauseConstraintsUnsatisfiable, fmt.Errorf("unsupported video codec %q", header.FourCC))
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
	if err != nil {
		f.Close()
		return nil, nil, media.NewAcquisitionError(media.CauseUnknown, err)
	}

	return f, track, nil
}

func openAudio(path, streamID string) (*os.File, *webrtc.TrackLocalStaticSample, error) {
	f, err := openFile(path)
	if err != nil {
		return nil, nil, err
	}

	if _, _, err = oggreader.NewWith(f); err != nil {
		f.Close()
		return nil, nil, media.NewAcquisitionError(media.CauseConstraintsUnsatisfiable, fmt.Errorf("read ogg header: %w", err))
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		f.Close()
		return nil, nil, media.NewAcquisitionError(media.CauseUnknown, err)
	}

	return f, track, nil
}

func pump(ctx context.Context, kind string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("media pump stopped", slog.Any(constant.Error, err), slog.String(constant.Kind, kind))
	}
}

// pumpIVF отдает кадры в темпе файла, по концу файла начинает сначала
func pumpIVF(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind ivf: %w", err)
		}

		ivf, header, err := ivfreader.NewWith(f)
		if err != nil {
			return fmt.Errorf("read ivf header: %w", err)
		}

		frameDuration := 33 * time.Millisecond
		if header.TimebaseNumerator > 0 {
			frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
		}

		frames, err := playFrames(ctx, frameDuration, func() ([]byte, time.Duration, error) {
			frame, _, err := ivf.ParseNextFrame()
			return frame, frameDuration, err
		}, track)
		if err != nil {
			return err
		}

		if frames == 0 {
			return errEmptySource
		}
	}
}

func pumpOgg(ctx context.Context, f *os.File, track *webrtc.TrackLocalStaticSample) error {
	for {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("rewind ogg: %w", err)
		}

		ogg, _, err := oggreader.NewWith(f)
		if err != nil {
			return fmt.Errorf("read ogg header: %w", err)
		}

		var lastGranule uint64

		pages, err := playFrames(ctx, oggPageDuration, func() ([]byte, time.Duration, error) {
			page, header, err := ogg.ParseNextPage()
			if err != nil {
				return nil, 0, err
			}

			sampleCount := float64(header.GranulePosition - lastGranule)
			lastGranule = header.GranulePosition

			return page, time.Duration(sampleCount / opusSampleRate * float64(time.Second)), nil
		}, track)
		if err != nil {
			return err
		}

		if pages == 0 {
			return errEmptySource
		}
	}
}

// playFrames возвращает число отправленных кадров, по концу файла ошибки нет
func playFrames(
	ctx context.Context,
	interval time.Duration,
	next func() ([]byte, time.Duration, error),
	track *webrtc.TrackLocalStaticSample,
) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for played := 0; ; played++ {
		data, duration, err := next()
		if errors.Is(err, io.EOF) {
			return played, nil
		}
		if err != nil {
			return played, err
		}

		if err = track.WriteSample(pionmedia.Sample{Data: data, Duration: duration}); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return played, fmt.Errorf("write sample: %w", err)
		}

		select {
		case <-ctx.Done():
			return played, ctx.Err()
		case <-ticker.C:
		}
	}
}
