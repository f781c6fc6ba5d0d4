package httpapi

import (
	"crypto/subtle"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vladislavdragonenkov/boxoffice/internal/domain"
)

const identityKey = "identity"

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireIdentity проверяет bearer-токен и кладёт Identity в контекст echo.
func (s *Server) requireIdentity(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := bearerToken(c)
		if token == "" {
			return domain.ErrUnauthenticated
		}
		identity, err := s.services.Verifier.Verify(c.Request().Context(), token)
		if err != nil {
			return err
		}
		c.Set(identityKey, identity)
		return next(c)
	}
}

func identityFrom(c echo.Context) domain.Identity {
	identity, _ := c.Get(identityKey).(domain.Identity)
	return identity
}

// requireCronSecret пропускает вызов планировщика. Пустой секрет отключает проверку.
func (s *Server) requireCronSecret(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.cronSecret == "" {
			return next(c)
		}
		if subtle.ConstantTimeCompare([]byte(bearerToken(c)), []byte(s.cronSecret)) != 1 {
			return domain.ErrUnauthenticated
		}
		return next(c)
	}
}
