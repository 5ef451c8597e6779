package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/logger"
	"github.com/qrave1/RoomMesh/internal/coordinator"
	"github.com/qrave1/RoomMesh/internal/domain/events"
	"github.com/qrave1/RoomMesh/internal/domain/media"
	"github.com/qrave1/RoomMesh/internal/domain/peer"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/capture"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/pion"
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a room as a headless participant",
	Long: `Join a room, stream IVF/OGG files as camera, screen and microphone, and log
or record what other participants send. Lines from stdin are sent as chat.
Commands: /screen, /camera, /grant video|audio, /revoke video|audio,
/roll <json>, /dice <json>, /game <json>, /emoji <text>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewClient()
		if err != nil {
			return err
		}

		applyJoinFlags(cmd, cfg)

		return runJoin(cmd.Context(), cfg, cmd.InOrStdin())
	},
}

func init() {
	f := joinCmd.Flags()
	f.String("relay", "", "relay websocket url (RELAY_URL)")
	f.String("room", "", "room id (ROOM_ID)")
	f.String("user", "", "participant id, random when empty (USER_ID)")
	f.String("name", "", "display name (USER_NAME)")
	f.String("role", "", "guest, visitor, mod, creator or admin (ROLE)")
	f.Bool("msgpack", false, "use binary msgpack frames (RELAY_MSGPACK)")
	f.String("video", "", "IVF file used as camera (VIDEO_FILE)")
	f.String("screen", "", "IVF file used as screen share (SCREEN_FILE)")
	f.String("audio", "", "OGG file used as microphone (AUDIO_FILE)")
	f.String("record", "", "directory for remote track recordings (RECORD_DIR)")

	rootCmd.AddCommand(joinCmd)
}

// applyJoinFlags - флаги перекрывают переменные окружения
func applyJoinFlags(cmd *cobra.Command, cfg *config.ClientConfig) {
	f := cmd.Flags()

	fields := map[string]*string{
		"relay":  &cfg.RelayURL,
		"room":   &cfg.RoomID,
		"user":   &cfg.UserID,
		"name":   &cfg.UserName,
		"role":   &cfg.Role,
		"video":  &cfg.VideoFile,
		"screen": &cfg.ScreenFile,
		"audio":  &cfg.AudioFile,
		"record": &cfg.RecordDir,
	}

	for name, dst := range fields {
		if f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}

	if f.Changed("msgpack") {
		cfg.Msgpack, _ = f.GetBool("msgpack")
	}

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}

	if cfg.UserName == "" {
		cfg.UserName = cfg.UserID
	}
}

func runJoin(ctx context.Context, cfg *config.ClientConfig, stdin io.Reader) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Init(os.Stdout, cfg.LogLevel)

	factory, err := pion.NewFactory(cfg.WebrtcICEServers(), slog.Default())
	if err != nil {
		return fmt.Errorf("create peer factory: %w", err)
	}

	p := &participant{
		cfg:      cfg,
		acquirer: capture.NewFileAcquirer(cfg.VideoFile, cfg.ScreenFile, cfg.AudioFile),
		recorder: capture.NewRecorder(cfg.RecordDir),
	}

	p.room = coordinator.New(
		cfg,
		coordinator.RelayDialer(cfg.RelayURL, cfg.Msgpack),
		factory,
		media.NewPolicy(media.ParseRole(cfg.Role), cfg.ApprovalRequired),
		p.handlers(),
	)

	if err = p.room.Connect(ctx); err != nil {
		return fmt.Errorf("join room %s: %w", cfg.RoomID, err)
	}

	if cfg.VideoFile != "" || cfg.AudioFile != "" {
		p.switchSource(ctx, media.SourceCamera)
	}

	lines := make(chan string)
	go scanLines(stdin, lines)

	for done := false; !done; {
		select {
		case <-ctx.Done():
			done = true
		case line, ok := <-lines:
			if !ok {
				lines = nil
				continue
			}

			p.command(ctx, line)
		}
	}

	err = p.room.Disconnect()
	p.releaseStream()
	p.tracks.Wait()

	return err
}

func scanLines(r io.Reader, out chan<- string) {
	defer close(out)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			out <- line
		}
	}
}

// participant - консольный участник комнаты
type participant struct {
	cfg      *config.ClientConfig
	room     *coordinator.Coordinator
	acquirer *capture.FileAcquirer
	recorder *capture.Recorder

	tracks sync.WaitGroup
	stream *media.Stream
}

func (p *participant) handlers() coordinator.Handlers {
	return coordinator.Handlers{
		OnStateChange: func(s coordinator.State) {
			slog.Info("relay state", slog.String(constant.State, s.String()))
		},
		OnParticipantJoined: func(id, name string) {
			slog.Info("participant joined", slog.String(constant.ParticipantID, id), slog.String(constant.UserName, name))
		},
		OnParticipantLeft: func(id string) {
			slog.Info("participant left", slog.String(constant.ParticipantID, id))
		},
		OnRemoteStreamAdded: func(id string, track peer.RemoteTrack) {
			p.tracks.Add(1)
			defer p.tracks.Done()

			stats, err := p.recorder.Consume(id, track)
			if err != nil {
				slog.Error("consume remote track", slog.String(constant.ParticipantID, id), slog.Any(constant.Error, err))
			}

			slog.Info(
				"remote track finished",
				slog.String(constant.ParticipantID, stats.ParticipantID),
				slog.String(constant.Kind, stats.Kind.String()),
				slog.String(constant.Codec, stats.MimeType),
				slog.Int("packets", stats.Packets),
				slog.Int("bytes", stats.Bytes),
				slog.Int("lost", stats.Lost),
				slog.String("file", stats.File),
			)
		},
		OnRemoteStreamRemoved: func(id string) {
			slog.Info("remote stream removed", slog.String(constant.ParticipantID, id))
		},
		OnMessageReceived: func(m events.ChatMessage) {
			slog.Info(
				"chat",
				slog.String(constant.UserName, m.SenderName),
				slog.String("content", m.Content),
				slog.String(constant.Kind, string(m.Kind)),
			)
		},
		OnRoomEvent: func(e coordinator.RoomEvent) {
			slog.Info(
				"room event",
				slog.String(constant.MessageType, string(e.Type)),
				slog.String(constant.UserID, e.UserID),
				slog.String("payload", string(e.Payload)),
			)
		},
	}
}

func (p *participant) command(ctx context.Context, line string) {
	name, arg, _ := strings.Cut(line, " ")

	var err error

	switch name {
	case "/screen":
		p.switchSource(ctx, media.SourceScreen)
	case "/camera":
		p.switchSource(ctx, media.SourceCamera)
	case "/grant", "/revoke":
		kind := webrtc.NewRTPCodecType(arg)
		if kind == 0 {
			err = fmt.Errorf("unknown track kind %q", arg)
			break
		}

		if name == "/grant" {
			p.room.GrantMedia(kind)
		} else {
			p.room.RevokeMedia(kind)
		}
	case "/roll":
		err = p.room.SendDiceRoll(rawJSON(arg))
	case "/dice":
		err = p.room.SendDiceConfig(rawJSON(arg))
	case "/game":
		err = p.room.SendGameAction(rawJSON(arg))
	case "/emoji":
		_, err = p.room.SendChat(arg, events.ChatKindEmoji)
	default:
		_, err = p.room.SendChat(line, events.ChatKindUser)
	}

	if err != nil {
		slog.Warn("command failed", slog.String("command", name), slog.Any(constant.Error, err))
	}
}

// switchSource заменяет локальный поток потоком другого источника. Файл может
// отдавать только один поток, поэтому старый освобождается до получения нового
func (p *participant) switchSource(ctx context.Context, source media.Source) {
	if p.stream != nil && p.stream.Source == source {
		return
	}

	p.releaseStream()

	stream, err := media.AcquireWithRetry(ctx, p.acquirer, media.Constraints{
		Source: source,
		Video:  p.videoFile(source) != "",
		Audio:  p.cfg.AudioFile != "",
	}, p.cfg.MediaRetryDelay)
	if err != nil {
		p.room.SetLocalStream(nil)

		var acqErr *media.AcquisitionError
		if errors.As(err, &acqErr) {
			slog.Warn(acqErr.Message(), slog.String("cause", acqErr.Cause.String()), slog.Any(constant.Error, err))
			return
		}

		slog.Warn("acquire media", slog.Any(constant.Error, err))

		return
	}

	p.stream = stream
	p.room.SetLocalStream(stream)
}

func (p *participant) videoFile(source media.Source) string {
	if source == media.SourceScreen {
		return p.cfg.ScreenFile
	}

	return p.cfg.VideoFile
}

func (p *participant) releaseStream() {
	if p.stream == nil {
		return
	}

	if err := p.acquirer.Release(p.stream); err != nil {
		slog.Warn("release media", slog.Any(constant.Error, err))
	}

	p.stream = nil
}

func rawJSON(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}

	raw, _ := json.Marshal(s)

	return raw
}
