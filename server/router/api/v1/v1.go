package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/catalog"
	"github.com/hrygo/productsense/ai/personalization"
	"github.com/hrygo/productsense/ai/routing"
	"github.com/hrygo/productsense/internal/profile"
	"github.com/hrygo/productsense/store"
)

// UserIDHeader identifies the shopper on every request.
const UserIDHeader = "X-User-ID"

const userIDContextKey = "user_id"

// Personalizer serves personalized sections. *personalization.Service satisfies it.
type Personalizer interface {
	Personalize(ctx context.Context, req *personalization.Request) (*personalization.Response, error)
	Get(ctx context.Context, key personalization.Key) (*store.PersonalizedSection, error)
	Reset(ctx context.Context) error
}

// QueryRouter answers free-form shopper queries. *routing.Router satisfies it.
type QueryRouter interface {
	Stream(ctx context.Context, q *routing.Query) <-chan *orchestrator.Event
}

// ProductSearcher runs semantic product search. *catalog.Searcher satisfies it.
type ProductSearcher interface {
	Search(ctx context.Context, userID int32, query, category string) ([]catalog.Product, error)
}

// Store is the read side of the store used by the handlers.
type Store interface {
	GetUser(ctx context.Context, id int32) (*store.User, error)
	ListUsers(ctx context.Context) ([]*store.User, error)
	GetProduct(ctx context.Context, id int32) (*store.Product, error)
	ListProducts(ctx context.Context, find *store.FindProduct) ([]*store.Product, error)
	ListVariants(ctx context.Context, productID int32) ([]*store.Variant, error)
	GetReview(ctx context.Context, id int32) (*store.Review, error)
	ListReviews(ctx context.Context, find *store.FindReview) ([]*store.Review, error)
	CountReviews(ctx context.Context, find *store.FindReview) (int, error)
	ListTraceSpans(ctx context.Context, traceID string) ([]*store.TraceSpan, error)
}

// APIV1Service holds the dependencies of the REST API.
type APIV1Service struct {
	Profile      *profile.Profile
	Store        Store
	Personalizer Personalizer
	QueryRouter  QueryRouter
	Searcher     ProductSearcher
	Prewarmer    routing.Prewarmer
}

// NewAPIV1Service creates the API service. prewarm may be nil.
func NewAPIV1Service(profile *profile.Profile, st Store, personalizer Personalizer, router QueryRouter, searcher ProductSearcher, prewarm routing.Prewarmer) *APIV1Service {
	return &APIV1Service{
		Profile:      profile,
		Store:        st,
		Personalizer: personalizer,
		QueryRouter:  router,
		Searcher:     searcher,
		Prewarmer:    prewarm,
	}
}

// Register mounts the API routes on e.
func (s *APIV1Service) Register(e *echo.Echo) {
	corsHandler := middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOriginFunc: func(_ string) (bool, error) {
			return true, nil
		},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, UserIDHeader},
	})

	// "/reviews/" and "/users/" resolve to their collection routes.
	e.Pre(middleware.RemoveTrailingSlash())
	api := e.Group("/api/v1", corsHandler, userIDMiddleware)

	api.GET("/users", s.ListUsers)
	api.GET("/users/me", s.GetCurrentUser)
	api.GET("/users/:id", s.GetUser)

	api.GET("/products", s.ListProducts)
	api.GET("/products/search", s.SearchProducts)
	api.GET("/products/search/debug", s.GetSearchDebug)
	api.GET("/products/:id", s.GetProduct)
	api.POST("/products/:id/personalizations", s.CreatePersonalization)
	api.GET("/products/:id/personalizations", s.GetPersonalization)
	api.GET("/products/:id/debug", s.GetPersonalizationDebug)
	api.GET("/products/:id/reviews", s.ListProductReviews)

	api.GET("/reviews", s.ListReviews)
	api.GET("/reviews/:id", s.GetReview)

	api.POST("/agents/query", s.Query)
	api.POST("/reset", s.Reset)
}

// userIDMiddleware parses X-User-ID when present. Handlers that need a user
// call requireUserID.
func userIDMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := c.Request().Header.Get(UserIDHeader)
		if raw == "" {
			return next(c)
		}
		id, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || id <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid "+UserIDHeader+" header")
		}
		c.Set(userIDContextKey, int32(id))
		return next(c)
	}
}

func requireUserID(c echo.Context) (int32, error) {
	if id, ok := c.Get(userIDContextKey).(int32); ok {
		return id, nil
	}
	return 0, echo.NewHTTPError(http.StatusUnauthorized, "missing "+UserIDHeader+" header")
}

func optionalUserID(c echo.Context) int32 {
	id, _ := c.Get(userIDContextKey).(int32)
	return id
}

func pathID(c echo.Context, name string) (int32, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 32)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return int32(id), nil
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error, msg string) error {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, personalization.ErrInProgress):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrRunTimeout):
		return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(499, "client closed request")
	}
	slog.Error("api: "+msg, "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, msg).SetInternal(err)
}
