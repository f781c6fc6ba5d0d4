package httpapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) cleanupExpired(c echo.Context) error {
	result, err := s.services.Sweeper.SweepOnce(c.Request().Context(), s.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
