package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/qrave1/RoomMesh/internal/application/metric"
)

// PrometheusMiddleware собирает метрики HTTP запросов. wsPaths - маршруты
// websocket, их длительность пишется как время жизни соединения
func PrometheusMiddleware(wsPaths ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)

			statusCode := c.Response().Status
			if statusCode == 0 {
				statusCode = http.StatusOK
			}

			if err != nil && statusCode < http.StatusBadRequest {
				statusCode = http.StatusInternalServerError
			}

			// c.Path() - шаблон маршрута
			path := c.Path()
			if slices.Contains(wsPaths, path) {
				metric.RecordWSSession(c.Request().Method, path, statusCode, time.Since(start))
				return err
			}

			metric.RecordHTTPMetrics(c.Request().Method, path, statusCode, time.Since(start))

			return err
		}
	}
}
