package httpserver

import (
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/chinnasivakrishna/auriter-agent/internal/config"
	"github.com/chinnasivakrishna/auriter-agent/internal/rtc"
)

// Server bundles the Echo router and its dependencies.
type Server struct {
	Echo *echo.Echo
}

// New constructs the HTTP server with routes.
func New(cfg config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization, "X-Auth-Token"},
	}))

	h := rtc.NewHandler(cfg)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	// non-trickle signaling: one offer in, one gathered answer out
	e.POST("/interview/offer/:roomId", func(c echo.Context) error {
		if !authOK(c.Request(), cfg.RTCAuthPassword) {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		var offer rtc.SessionDescription
		if err := c.Bind(&offer); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
		}
		answer, err := h.HandleOffer(c.Request().Context(), c.Param("roomId"), offer)
		if err != nil {
			log.Printf("handle offer for room %s: %v", c.Param("roomId"), err)
			return echo.NewHTTPError(http.StatusInternalServerError, "offer failed")
		}
		return c.JSON(http.StatusOK, answer)
	})

	// trickle-ICE signaling over WebSocket; auth is handled inside
	e.GET("/ws/call", func(c echo.Context) error {
		h.ServeWebSocket(c.Response(), c.Request())
		return nil
	})

	return &Server{Echo: e}
}

// authOK accepts the request when no password is configured, or when the
// query parameter, bearer token or X-Auth-Token header matches.
func authOK(r *http.Request, password string) bool {
	if password == "" {
		return true
	}
	if q := r.URL.Query().Get("password"); q == password {
		return true
	}
	ah := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(ah), "bearer ") {
		if strings.TrimSpace(ah[len("Bearer "):]) == password {
			return true
		}
	}
	return r.Header.Get("X-Auth-Token") == password
}
