// Package routing routes a shopper's free-text query to exactly one action:
// regenerating the personalized section of the product in view, a product
// search, or a product search ranked by review sentiment.
package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/catalog"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/metrics"
	"github.com/hrygo/productsense/ai/observability/logging"
	"github.com/hrygo/productsense/ai/observability/tracing"
	"github.com/hrygo/productsense/store"
)

// Tool names offered to the routing model.
const (
	ToolQueryAboutProduct    = "query_about_product"
	ToolSearchProducts       = "search_products"
	ToolReviewsWithSentiment = "query_reviews_with_sentiment"
)

// ActionProductSearch tags product_search events.
const ActionProductSearch = "product_search"

// DefaultCategories are the catalog categories offered to the routing model.
var DefaultCategories = []string{"headphones", "tablets", "smartwatch"}

// Personalizer regenerates a personalized section and streams its events.
type Personalizer interface {
	RunStream(ctx context.Context, req *orchestrator.Request) <-chan *orchestrator.Event
}

// Prewarmer starts personalization for products in the background.
type Prewarmer interface {
	Prewarm(userID int32, productIDs []int32)
}

// MentionCounter counts reviews mentioning a feature with a sentiment.
type MentionCounter interface {
	CountReviewMentions(ctx context.Context, find *store.FindReviewMentions) ([]*store.ReviewMentionCount, error)
}

// Query is one shopper request.
type Query struct {
	UserID int32
	// ProductID is the product in view, zero on a search page.
	ProductID int32
	Message   string
	// TraceID is generated when empty.
	TraceID string
}

// Config configures a Router.
type Config struct {
	// Categories are listed in the search tool descriptions.
	Categories []string
	// ResponseSize caps returned search hits. Default catalog.ResponseSize.
	ResponseSize int
	// Model labels LLM metrics.
	Model string
}

// Router picks one tool per query and runs it directly; tool output is never
// passed back to the model.
type Router struct {
	llm          llm.Service
	catalog      *catalog.Searcher
	reviews      MentionCounter
	personalizer Personalizer
	prewarm      Prewarmer
	spans        tracing.SpanWriter
	config       Config
	metrics      *metrics.PrometheusExporter
}

// NewRouter creates a Router. prewarm and spans may be nil.
func NewRouter(service llm.Service, searcher *catalog.Searcher, reviews MentionCounter, personalizer Personalizer, prewarm Prewarmer, spans tracing.SpanWriter, config Config, exporter *metrics.PrometheusExporter) (*Router, error) {
	if service == nil {
		return nil, fmt.Errorf("llm service cannot be nil")
	}
	if searcher == nil || reviews == nil {
		return nil, fmt.Errorf("catalog searcher and review counter are required")
	}
	if personalizer == nil {
		return nil, fmt.Errorf("personalizer cannot be nil")
	}
	if len(config.Categories) == 0 {
		config.Categories = DefaultCategories
	}
	if config.ResponseSize <= 0 {
		config.ResponseSize = catalog.ResponseSize
	}
	return &Router{
		llm:          service,
		catalog:      searcher,
		reviews:      reviews,
		personalizer: personalizer,
		prewarm:      prewarm,
		spans:        spans,
		config:       config,
		metrics:      exporter,
	}, nil
}

// Stream handles q in the background. The channel carries the events of the
// chosen action and ends with nil, after which it is closed.
func (r *Router) Stream(ctx context.Context, in *Query) <-chan *orchestrator.Event {
	q := *in
	if q.TraceID == "" {
		q.TraceID = tracing.NewTraceID()
	}
	d := orchestrator.NewEventDispatcher(ctx, q.TraceID, 16)
	go func() {
		defer d.Close()
		r.handle(ctx, &q, d.Send)
	}()
	return d.Events()
}

func (r *Router) handle(ctx context.Context, q *Query, emit func(*orchestrator.Event)) {
	rec := tracing.NewRecorder(q.TraceID)
	ctx = tracing.WithRecorder(ctx, rec)
	ctx = logging.WithTrace(ctx, q.TraceID)
	logger := logging.FromContext(ctx)
	defer func() {
		if r.spans == nil {
			return
		}
		if err := rec.Flush(context.WithoutCancel(ctx), r.spans); err != nil {
			logger.Warn("router: failed to persist trace spans", "error", err)
		}
	}()

	call, err := r.route(ctx, q)
	if err != nil {
		logger.Error("router: routing failed", "error", err)
		emit(orchestrator.NewEvent(orchestrator.EventError, q.ProductID, map[string]any{"message": err.Error()}))
		return
	}

	start := time.Now()
	toolCtx, span := tracing.StartSpan(ctx, tracing.SpanToolPrefix+call.Name)
	span.SetAttr(tracing.AttrInput, call.Arguments)

	var summary string
	switch call.Name {
	case ToolSearchProducts:
		summary, err = r.searchProducts(toolCtx, q, call.Arguments, emit)
	case ToolReviewsWithSentiment:
		summary, err = r.searchBySentiment(toolCtx, q, call.Arguments, emit)
	default:
		summary, err = r.queryAboutProduct(toolCtx, q, emit)
	}
	r.metrics.RecordToolCall(call.Name, time.Since(start), err == nil)
	span.SetAttr(tracing.AttrOutput, summary)
	span.End(err)

	if err != nil && call.Name != ToolQueryAboutProduct {
		logger.Error("router: tool failed", "tool", call.Name, "error", err)
		emit(orchestrator.NewEvent(orchestrator.EventError, q.ProductID, map[string]any{"message": err.Error()}))
	}
}

// route asks the model for one tool call. Anything other than a known tool
// falls back to query_about_product.
func (r *Router) route(ctx context.Context, q *Query) (llm.ToolCall, error) {
	ctx, span := tracing.StartSpan(ctx, tracing.SpanRouter)
	span.SetAttr(tracing.AttrInput, q.Message)

	messages := []llm.Message{
		llm.SystemPrompt(SystemPrompt),
		llm.UserMessage(q.Message),
	}
	resp, stats, err := r.llm.ChatWithTools(ctx, messages, r.descriptors())
	if err != nil {
		span.End(err)
		return llm.ToolCall{}, fmt.Errorf("route query: %w", err)
	}
	if stats != nil {
		r.metrics.RecordLLMCall(r.config.Model, stats.PromptTokens, stats.CompletionTokens,
			time.Duration(stats.TotalDurationMs)*time.Millisecond)
	}

	call := llm.ToolCall{Name: ToolQueryAboutProduct, Arguments: mustJSON(map[string]string{"query": q.Message})}
	if len(resp.ToolCalls) > 0 {
		switch tc := resp.ToolCalls[0]; tc.Name {
		case ToolQueryAboutProduct, ToolSearchProducts, ToolReviewsWithSentiment:
			call = tc
		default:
			logging.FromContext(ctx).Warn("router: model picked an unknown tool", "tool", tc.Name)
		}
	}
	span.SetAttr(tracing.AttrOutput, call.Name)
	span.End(nil)
	return call, nil
}

// queryAboutProduct regenerates the section of the product in view and
// forwards the run's events.
func (r *Router) queryAboutProduct(ctx context.Context, q *Query, emit func(*orchestrator.Event)) (string, error) {
	events := r.personalizer.RunStream(ctx, &orchestrator.Request{
		UserID:      q.UserID,
		ProductID:   q.ProductID,
		UserMessage: q.Message,
		TraceID:     q.TraceID,
	})

	var failure error
	for e := range events {
		if e == nil {
			continue
		}
		if e.Type == orchestrator.EventError {
			failure = fmt.Errorf("%v", e.Data["message"])
		}
		emit(e)
	}
	if failure != nil {
		return "", failure
	}
	return "personalized section updated", nil
}

type searchInput struct {
	ProductCategory string `json:"product_category"`
}

func (r *Router) searchProducts(ctx context.Context, q *Query, args string, emit func(*orchestrator.Event)) (string, error) {
	var in searchInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	products := []catalog.Product{}
	if strings.TrimSpace(in.ProductCategory) != "" {
		found, err := r.catalog.Search(ctx, q.UserID, q.Message, in.ProductCategory)
		if err != nil {
			return "", err
		}
		products = r.truncate(found)
		r.prewarmProducts(q.UserID, products)
	}

	emit(r.productSearchEvent(q, products))
	return fmt.Sprintf("%d product(s)", len(products)), nil
}

type sentimentInput struct {
	ProductCategory string `json:"product_category"`
	ProductFeature  string `json:"product_feature"`
	Sentiment       string `json:"sentiment"`
}

// searchBySentiment keeps the search hits with at least one review that
// mentions the feature with the requested sentiment, most mentions first.
func (r *Router) searchBySentiment(ctx context.Context, q *Query, args string, emit func(*orchestrator.Event)) (string, error) {
	var in sentimentInput
	if err := decodeArgs(args, &in); err != nil {
		return "", err
	}

	products := []catalog.Product{}
	feature := strings.TrimSpace(in.ProductFeature)
	if strings.TrimSpace(in.ProductCategory) != "" {
		found, err := r.catalog.Search(ctx, q.UserID, q.Message, in.ProductCategory)
		if err != nil {
			return "", err
		}
		if feature != "" && len(found) > 0 {
			counts, err := r.reviews.CountReviewMentions(ctx, &store.FindReviewMentions{
				ProductIDs: catalog.IDs(found),
				Feature:    feature,
				Sentiment:  store.Sentiment(strings.ToLower(strings.TrimSpace(in.Sentiment))),
			})
			if err != nil {
				return "", fmt.Errorf("count review mentions: %w", err)
			}
			byID := make(map[int32]catalog.Product, len(found))
			for _, p := range found {
				byID[p.ID] = p
			}
			for _, c := range counts {
				if p, ok := byID[c.ProductID]; ok && c.Count > 0 {
					products = append(products, p)
				}
			}
			products = r.truncate(products)
		}
		r.prewarmProducts(q.UserID, products)
	}

	emit(r.productSearchEvent(q, products))
	return fmt.Sprintf("%d product(s)", len(products)), nil
}

func (r *Router) productSearchEvent(q *Query, products []catalog.Product) *orchestrator.Event {
	return orchestrator.NewEvent(orchestrator.EventProductSearch, q.ProductID, map[string]any{
		"products":     products,
		"agent_action": ActionProductSearch,
		"trace_id":     q.TraceID,
	})
}

func (r *Router) truncate(products []catalog.Product) []catalog.Product {
	if len(products) > r.config.ResponseSize {
		return products[:r.config.ResponseSize]
	}
	return products
}

func (r *Router) prewarmProducts(userID int32, products []catalog.Product) {
	if r.prewarm == nil || len(products) == 0 {
		return
	}
	r.prewarm.Prewarm(userID, catalog.IDs(products))
}

func (r *Router) descriptors() []llm.ToolDescriptor {
	categories := strings.Join(r.config.Categories, ", ")
	category := &llm.JSONSchema{
		Type:        "string",
		Description: "Category of the products asked about. One of: " + categories + ". Empty when unknown.",
	}
	return []llm.ToolDescriptor{
		{
			Name: ToolQueryAboutProduct,
			Description: `Act on the product the shopper is viewing: summarize or highlight reviews, check availability, or regenerate the personalized section.
Examples: "Show a summary of critical reviews about durability", "Is this available in red".`,
			Parameters: (&llm.JSONSchema{
				Type:       "object",
				Properties: map[string]*llm.JSONSchema{"query": {Type: "string", Description: "The shopper's instruction"}},
				Required:   []string{"query"},
			}).String(),
		},
		{
			Name: ToolSearchProducts,
			Description: `Search the catalog when the shopper wants to find products and does not mention reviews.
Examples: "Wireless headphones", "Tablets with 8GB RAM".`,
			Parameters: (&llm.JSONSchema{
				Type:       "object",
				Properties: map[string]*llm.JSONSchema{"product_category": category},
			}).String(),
		},
		{
			Name: ToolReviewsWithSentiment,
			Description: `Search the catalog for products whose reviews mention a feature with a given sentiment.
Examples: "Headphones with positive reviews about noise cancellation".`,
			Parameters: (&llm.JSONSchema{
				Type: "object",
				Properties: map[string]*llm.JSONSchema{
					"product_category": category,
					"product_feature":  {Type: "string", Description: "Feature mentioned in reviews, e.g. battery life"},
					"sentiment":        {Type: "string", Enum: []string{"positive", "neutral", "negative"}},
				},
				Required: []string{"product_feature", "sentiment"},
			}).String(),
		},
	}
}

func decodeArgs(args string, v any) error {
	if strings.TrimSpace(args) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func mustJSON(v any) string {
	b, _ := json.Marshal(v)
	return string(b)
}
