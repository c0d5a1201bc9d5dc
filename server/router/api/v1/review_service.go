package v1

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/productsense/store"
)

const maxReviewPageSize = 500

// Review is the wire form of a customer review.
type Review struct {
	ID         int32  `json:"id"`
	ProductID  int32  `json:"product_id"`
	Rating     int32  `json:"rating"`
	ReviewText string `json:"review_text"`
	CreatedTs  int64  `json:"created_ts"`
}

// ReviewsResponse is one page of reviews.
type ReviewsResponse struct {
	Page     int      `json:"page"`
	PageSize int      `json:"page_size"`
	Total    int      `json:"total"`
	Reviews  []Review `json:"reviews"`
}

func convertReviewFromStore(r *store.Review) Review {
	return Review{
		ID:         r.ID,
		ProductID:  r.ProductID,
		Rating:     r.Rating,
		ReviewText: r.Text,
		CreatedTs:  r.CreatedTs,
	}
}

func (s *APIV1Service) ListReviews(c echo.Context) error {
	return s.listReviews(c, &store.FindReview{})
}

// ListProductReviews pages through the reviews of one product.
func (s *APIV1Service) ListProductReviews(c echo.Context) error {
	productID, err := pathID(c, "id")
	if err != nil {
		return err
	}
	product, err := s.Store.GetProduct(c.Request().Context(), productID)
	if err != nil {
		return httpError(err, "failed to get product")
	}
	if product == nil {
		return echo.NewHTTPError(http.StatusNotFound, "product not found")
	}
	return s.listReviews(c, &store.FindReview{ProductID: &productID})
}

func (s *APIV1Service) GetReview(c echo.Context) error {
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}
	review, err := s.Store.GetReview(c.Request().Context(), id)
	if err != nil {
		return httpError(err, "failed to get review")
	}
	if review == nil {
		return echo.NewHTTPError(http.StatusNotFound, "review not found")
	}
	return c.JSON(http.StatusOK, convertReviewFromStore(review))
}

func (s *APIV1Service) listReviews(c echo.Context, find *store.FindReview) error {
	ctx := c.Request().Context()
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := queryInt(c, "page_size", defaultPageSize)
	if err != nil {
		return err
	}
	pageSize = min(pageSize, maxReviewPageSize)
	find.Limit, find.Offset = pageSize, (page-1)*pageSize

	total, err := s.Store.CountReviews(ctx, find)
	if err != nil {
		return httpError(err, "failed to count reviews")
	}
	reviews, err := s.Store.ListReviews(ctx, find)
	if err != nil {
		return httpError(err, "failed to list reviews")
	}
	resp := ReviewsResponse{Page: page, PageSize: pageSize, Total: total, Reviews: make([]Review, 0, len(reviews))}
	for _, r := range reviews {
		resp.Reviews = append(resp.Reviews, convertReviewFromStore(r))
	}
	return c.JSON(http.StatusOK, resp)
}

// queryInt reads a positive integer query parameter, returning def when absent.
func queryInt(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return n, nil
}
