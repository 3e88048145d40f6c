// Package httpserver wires the HTTP surface: health and history reads plus
// the voice WebSocket route.
package httpserver

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// New creates a configured Echo server instance.
func New() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	return e
}
