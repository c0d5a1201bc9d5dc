package format

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hrygo/productsense/store"
)

// Price renders a price the way shoppers read it, e.g. "$129.5".
func Price(p float64) string {
	return "$" + strconv.FormatFloat(p, 'f', -1, 64)
}

// Variants flattens variants into prompt-friendly records: price, stock count
// and one key per attribute. Attribute names never overwrite price or in_stock.
func Variants(variants []*store.Variant) []map[string]any {
	out := make([]map[string]any, 0, len(variants))
	for _, v := range variants {
		record := map[string]any{
			"price":    Price(v.Price),
			"in_stock": v.StockCount,
		}
		for _, attr := range v.Attributes {
			name := strings.ToLower(strings.TrimSpace(attr.Name))
			if name == "" || name == "price" || name == "in_stock" {
				continue
			}
			record[name] = attr.Value
		}
		out = append(out, record)
	}
	return out
}

// JSON renders v compactly for embedding in a prompt. Values that cannot be
// marshaled render as "null".
func JSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
