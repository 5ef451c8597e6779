package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/infra/ports/http/dto"
	"github.com/qrave1/RoomMesh/internal/usecase"
)

type StatusHandler struct {
	relayUsecase usecase.RelayUsecase
}

func NewStatusHandler(relayUsecase usecase.RelayUsecase) *StatusHandler {
	return &StatusHandler{relayUsecase: relayUsecase}
}

func (h *StatusHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.StatusResponse{
		Status:    "ok",
		RoomCount: h.relayUsecase.RoomCount(),
		Timestamp: time.Now().UTC(),
	})
}

func (h *StatusHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, dto.HealthResponse{Status: "healthy"})
}
