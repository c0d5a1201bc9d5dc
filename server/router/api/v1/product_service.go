package v1

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/productsense/ai/cards"
	"github.com/hrygo/productsense/ai/catalog"
	"github.com/hrygo/productsense/ai/observability/tracing"
	"github.com/hrygo/productsense/ai/personalization"
	"github.com/hrygo/productsense/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Variant is the wire form of a product variant.
type Variant struct {
	ID         int32             `json:"id"`
	Price      float64           `json:"price"`
	StockCount int32             `json:"stock_count"`
	InStock    bool              `json:"in_stock"`
	Attributes map[string]string `json:"attributes"`
}

// ProductDetails is a product with its variants.
type ProductDetails struct {
	catalog.Product
	Variants []Variant `json:"variants"`
}

// PersonalizationRequest is the body of POST /products/:id/personalizations.
type PersonalizationRequest struct {
	FaultCorrection bool `json:"fault_correction"`
}

// PersonalizationResponse is a served or stored section.
type PersonalizationResponse struct {
	ProductID       int32               `json:"product_id"`
	UserID          int32               `json:"user_id"`
	Personalization []cards.Card        `json:"personalization"`
	TraceID         string              `json:"trace_id"`
	Status          store.SectionStatus `json:"status"`
}

// ProductsResponse is a list of products.
type ProductsResponse struct {
	Products []catalog.Product `json:"products"`
}

func (s *APIV1Service) GetProduct(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	product, err := s.Store.GetProduct(ctx, id)
	if err != nil {
		return httpError(err, "failed to get product")
	}
	if product == nil {
		return echo.NewHTTPError(http.StatusNotFound, "product not found")
	}
	variants, err := s.Store.ListVariants(ctx, id)
	if err != nil {
		return httpError(err, "failed to list variants")
	}

	details := ProductDetails{Product: catalog.FromStore(product), Variants: make([]Variant, 0, len(variants))}
	for _, v := range variants {
		attrs := make(map[string]string, len(v.Attributes))
		for _, a := range v.Attributes {
			attrs[a.Name] = a.Value
		}
		details.Variants = append(details.Variants, Variant{
			ID:         v.ID,
			Price:      v.Price,
			StockCount: v.StockCount,
			InStock:    v.StockCount > 0,
			Attributes: attrs,
		})
	}
	return c.JSON(http.StatusOK, details)
}

func (s *APIV1Service) ListProducts(c echo.Context) error {
	find := &store.FindProduct{Limit: defaultPageSize}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		find.Limit = min(limit, maxPageSize)
	}
	if category := strings.ToLower(strings.TrimSpace(c.QueryParam("category"))); category != "" {
		find.Category = &category
	}

	products, err := s.Store.ListProducts(c.Request().Context(), find)
	if err != nil {
		return httpError(err, "failed to list products")
	}
	resp := ProductsResponse{Products: make([]catalog.Product, 0, len(products))}
	for _, p := range products {
		resp.Products = append(resp.Products, catalog.FromStore(p))
	}
	return c.JSON(http.StatusOK, resp)
}

// SearchProducts runs semantic search and prewarms the hits for the caller.
func (s *APIV1Service) SearchProducts(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	userID := optionalUserID(c)

	products, err := s.Searcher.Search(c.Request().Context(), userID, query, c.QueryParam("category"))
	if err != nil {
		return httpError(err, "failed to search products")
	}
	if s.Prewarmer != nil && userID > 0 && len(products) > 0 {
		s.Prewarmer.Prewarm(userID, catalog.IDs(products))
	}
	return c.JSON(http.StatusOK, ProductsResponse{Products: products})
}

func (s *APIV1Service) CreatePersonalization(c echo.Context) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	productID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	var body PersonalizationRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}

	resp, err := s.Personalizer.Personalize(c.Request().Context(), &personalization.Request{
		UserID:          userID,
		ProductID:       productID,
		FaultCorrection: body.FaultCorrection,
	})
	if err != nil {
		return httpError(err, "failed to personalize product")
	}
	return c.JSON(http.StatusOK, PersonalizationResponse{
		ProductID:       productID,
		UserID:          userID,
		Personalization: resp.Personalization,
		TraceID:         resp.TraceID,
		Status:          resp.Status,
	})
}

func (s *APIV1Service) GetPersonalization(c echo.Context) error {
	section, err := s.section(c)
	if err != nil {
		return err
	}
	decoded, err := cards.Decode(section.Personalization)
	if err != nil {
		return httpError(err, "failed to decode personalization")
	}
	resp := PersonalizationResponse{
		ProductID:       section.ProductID,
		UserID:          section.UserID,
		Personalization: []cards.Card{},
		TraceID:         section.TraceID,
		Status:          section.Status,
	}
	if decoded != nil {
		resp.Personalization = decoded.Personalization
	}
	return c.JSON(http.StatusOK, resp)
}

// GetPersonalizationDebug returns the flow graph of the run that produced the
// caller's section.
func (s *APIV1Service) GetPersonalizationDebug(c echo.Context) error {
	section, err := s.section(c)
	if err != nil {
		return err
	}
	if section.TraceID == "" {
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	}
	return s.flow(c, section.TraceID)
}

// GetSearchDebug returns the flow graph of a query-router trace.
func (s *APIV1Service) GetSearchDebug(c echo.Context) error {
	traceID := strings.TrimSpace(c.QueryParam("trace_id"))
	if traceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "trace_id is required")
	}
	return s.flow(c, traceID)
}

func (s *APIV1Service) section(c echo.Context) (*store.PersonalizedSection, error) {
	userID, err := requireUserID(c)
	if err != nil {
		return nil, err
	}
	productID, err := pathID(c, "id")
	if err != nil {
		return nil, err
	}
	section, err := s.Personalizer.Get(c.Request().Context(), personalization.Key{ProductID: productID, UserID: userID})
	if err != nil {
		return nil, httpError(err, "failed to get personalization")
	}
	if section == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "personalization not found")
	}
	return section, nil
}

func (s *APIV1Service) flow(c echo.Context, traceID string) error {
	spans, err := s.Store.ListTraceSpans(c.Request().Context(), traceID)
	if err != nil {
		return httpError(err, "failed to list trace spans")
	}
	if len(spans) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	}
	return c.JSON(http.StatusOK, tracing.BuildFlow(spans))
}
