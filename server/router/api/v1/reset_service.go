package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// MessageResponse carries a human-readable outcome.
type MessageResponse struct {
	Message string `json:"message"`
}

// Reset drops every personalized section and user memory. The catalog and
// user profiles are kept.
func (s *APIV1Service) Reset(c echo.Context) error {
	if err := s.Personalizer.Reset(c.Request().Context()); err != nil {
		return httpError(err, "database reset failed")
	}
	return c.JSON(http.StatusOK, MessageResponse{Message: "Database reset successful"})
}
