package v1

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/productsense/ai/routing"
)

// MIMEApplicationNDJSON is the content type of event streams.
const MIMEApplicationNDJSON = "application/x-ndjson"

// QueryRequest is the body of POST /agents/query.
type QueryRequest struct {
	ProductID int32  `json:"product_id"`
	UserQuery string `json:"user_query"`
}

// Query routes a shopper message and streams the resulting events as
// newline-delimited JSON. The stream ends with a null line.
func (s *APIV1Service) Query(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	var body QueryRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	body.UserQuery = strings.TrimSpace(body.UserQuery)
	if body.UserQuery == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_query is required")
	}

	ctx := c.Request().Context()
	events := s.QueryRouter.Stream(ctx, &routing.Query{
		UserID:    userID,
		ProductID: body.ProductID,
		Message:   body.UserQuery,
	})

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, MIMEApplicationNDJSON)
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(res)
	for e := range events {
		if err := enc.Encode(e); err != nil {
			slog.Debug("api: query stream closed by client", "user_id", userID, "error", err)
			go drain(events)
			return nil
		}
		res.Flush()
		if e == nil {
			break
		}
	}
	return nil
}

func drain[T any](ch <-chan T) {
	for range ch {
	}
}
