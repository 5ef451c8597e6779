package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/qrave1/RoomMesh/internal/application/config"
	"github.com/qrave1/RoomMesh/internal/application/constant"
	"github.com/qrave1/RoomMesh/internal/application/logger"
	"github.com/qrave1/RoomMesh/internal/application/metric"
	"github.com/qrave1/RoomMesh/internal/infra/adapters/memory"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/server"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the rendezvous relay",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)
}

func runRelay(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.NewRelay()
	if err != nil {
		slog.Error("parse config", slog.Any(constant.Error, err))
		return err
	}

	logger.Init(os.Stdout, cfg.LogLevel)

	slog.Info("Running relay", slog.Bool("debug", cfg.Debug), slog.String("port", cfg.Port))

	roomRepo := memory.NewRoomRepository()
	membershipRepo := memory.NewMembershipRepository()
	wsConnRepo := memory.NewWSConnectionRepository()

	relayUsecase := usecase.NewRelayUsecase(roomRepo, membershipRepo, wsConnRepo)

	statusHandler := handlers.NewStatusHandler(relayUsecase)
	wsHandler := handlers.NewWebSocketHandler(cfg, relayUsecase)

	echoSrv := server.New(statusHandler, wsHandler)
	metricsSrv := metric.NewServer(relayUsecase.RoomCount)

	g, gctx := errgroup.WithContext(ctx)

	// Запускаем HTTP сервер
	g.Go(func() error {
		if err := echoSrv.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}

		return nil
	})

	// Запускаем сервер метрик
	g.Go(func() error {
		if err := metricsSrv.Start(":" + cfg.MetricPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}

		return nil
	})

	// Graceful shutdown по сигналу или падению одного из серверов
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down servers")

		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()

		return multierr.Combine(
			echoSrv.Shutdown(timeoutCtx),
			metricsSrv.Shutdown(timeoutCtx),
		)
	})

	if err = g.Wait(); err != nil {
		slog.Error("Relay stopped", slog.Any(constant.Error, err))
		return err
	}

	return nil
}
