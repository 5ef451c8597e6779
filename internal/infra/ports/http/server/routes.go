package server

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/qrave1/RoomMesh/internal/infra/ports/http/handlers"
	"github.com/qrave1/RoomMesh/internal/infra/ports/http/middleware"
)

const wsPath = "/ws"

// New собирает echo сервер relay
func New(
	statusHandler *handlers.StatusHandler,
	wsHandler *handlers.WebSocketHandler,
) *echo.Echo {
	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(middleware.SlogLogger())
	e.Use(middleware.PrometheusMiddleware(wsPath))
	e.Use(echomw.CORS())

	e.GET("/", statusHandler.Status)
	e.GET("/health", statusHandler.Health)
	e.GET(wsPath, wsHandler.Handle)

	return e
}
