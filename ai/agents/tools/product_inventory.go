package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hrygo/productsense/ai/agents/orchestrator"
	"github.com/hrygo/productsense/ai/core/llm"
	"github.com/hrygo/productsense/ai/format"
	"github.com/hrygo/productsense/store"
)

// InventoryName is the tool name the inventory agent is prompted with.
const InventoryName = "product_inventory"

// VariantLister reads live stock.
type VariantLister interface {
	ListVariants(ctx context.Context, productID int32) ([]*store.Variant, error)
}

// InventoryInput is the tool argument object. Attribute values match
// case-insensitively as substrings.
type InventoryInput struct {
	Attributes  map[string]string `json:"attributes,omitempty"`
	InStockOnly bool              `json:"in_stock_only,omitempty"`
}

// InventoryTool reports live variant stock for the current product.
type InventoryTool struct {
	store VariantLister
}

// NewInventoryTool creates the tool.
func NewInventoryTool(lister VariantLister) (*InventoryTool, error) {
	if lister == nil {
		return nil, fmt.Errorf("variant lister cannot be nil")
	}
	return &InventoryTool{store: lister}, nil
}

func (t *InventoryTool) Name() string { return InventoryName }

func (t *InventoryTool) Description() string {
	return `Look up live stock for this product's variants.

Input: {"attributes": {"color": "green"}, "in_stock_only": true}
Output: JSON list of matching variants with price, in_stock count and attributes, plus scarcity notes.`
}

func (t *InventoryTool) Parameters() *llm.JSONSchema {
	return &llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"attributes": {
				Type:                 "object",
				Description:          "Attribute filters such as color or size",
				AdditionalProperties: true,
			},
			"in_stock_only": {Type: "boolean", Description: "Skip sold out variants"},
		},
	}
}

func (t *InventoryTool) Run(ctx context.Context, input string) (string, error) {
	wc := orchestrator.WorkflowFromContext(ctx)
	if wc == nil {
		return "", errNoWorkflow
	}

	var args InventoryInput
	if strings.TrimSpace(input) != "" {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return "", fmt.Errorf("invalid JSON input: %w", err)
		}
	}

	variants, err := t.store.ListVariants(ctx, wc.ProductID)
	if err != nil {
		return "", fmt.Errorf("list variants: %w", err)
	}

	var (
		matched []*store.Variant
		notes   []string
	)
	for _, v := range variants {
		if args.InStockOnly && v.StockCount <= 0 {
			continue
		}
		if !matchesAttributes(v, args.Attributes) {
			continue
		}
		matched = append(matched, v)
		if v.StockCount > 0 && v.StockCount < store.LowStockThreshold {
			notes = append(notes, fmt.Sprintf("only %d left of %s", v.StockCount, describe(v)))
		}
	}
	if len(matched) == 0 {
		return "No variants match the requested attributes.", nil
	}

	out := format.JSON(format.Variants(matched))
	if len(notes) > 0 {
		out += "\nScarcity: " + strings.Join(notes, "; ")
	}
	return out, nil
}

func matchesAttributes(v *store.Variant, want map[string]string) bool {
	for name, value := range want {
		found := false
		for _, a := range v.Attributes {
			if strings.EqualFold(a.Name, name) && strings.Contains(strings.ToLower(a.Value), strings.ToLower(value)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func describe(v *store.Variant) string {
	parts := make([]string, 0, len(v.Attributes))
	for _, a := range v.Attributes {
		parts = append(parts, a.Value)
	}
	if len(parts) == 0 {
		return "the default variant"
	}
	return strings.Join(parts, " ")
}
