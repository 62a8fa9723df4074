package scraper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/akazanov/go-scrape-wb/models"
	"github.com/shopspring/decimal"
)

// RawItem is one untyped product object as the marketplace returns it. The
// mapper below is the only code that touches its fields; the rest of the
// pipeline sees models.Product.
type RawItem map[string]any

// listingPage mirrors the envelope of a catalog or search response.
type listingPage struct {
	Data struct {
		Products []RawItem `json:"products"`
	} `json:"data"`
}

// decodePage decodes one listing response body. Numbers are kept as
// json.Number so prices never pass through binary floating point.
func decodePage(body []byte) ([]RawItem, error) {
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	var page listingPage
	if err := decoder.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode listing page: %w", err)
	}
	return page.Data.Products, nil
}

// mapItem converts a raw item into a product record. Only id and name are
// required; rating stays absent when the upstream omits it.
func mapItem(raw RawItem, productURL func(id string) string, scrapedAt time.Time) (*models.Product, error) {
	id, err := numberString(raw, "id")
	if err != nil {
		return nil, err
	}

	name, err := requiredString(raw, "name")
	if err != nil {
		return nil, err
	}

	regular, err := kopeckPrice(raw, "priceU")
	if err != nil {
		return nil, err
	}
	discounted, err := kopeckPrice(raw, "salePriceU")
	if err != nil {
		return nil, err
	}
	if discounted.GreaterThan(regular) {
		return nil, &MalformedItemError{Field: "salePriceU", Reason: fmt.Sprintf("discounted price %s exceeds regular price %s", discounted, regular)}
	}

	product := &models.Product{
		ID:              id,
		Name:            name,
		Brand:           optionalString(raw, "brand"),
		URL:             productURL(id),
		RegularPrice:    regular,
		DiscountedPrice: discounted,
		ScrapedAt:       scrapedAt,
	}

	if brandID, ok, err := optionalInt(raw, "brandId"); err != nil {
		return nil, err
	} else if ok {
		product.BrandID = brandID
	}

	if rating, ok, err := optionalDecimal(raw, "rating"); err != nil {
		return nil, err
	} else if ok {
		if rating.IsNegative() || rating.GreaterThan(decimal.NewFromInt(5)) {
			return nil, &MalformedItemError{Field: "rating", Reason: fmt.Sprintf("rating %s outside 0..5", rating)}
		}
		product.Rating = decimal.NewNullDecimal(rating)
	}

	if reviews, ok, err := optionalInt(raw, "feedbacks"); err != nil {
		return nil, err
	} else if ok {
		if reviews < 0 {
			return nil, &MalformedItemError{Field: "feedbacks", Reason: "negative review count"}
		}
		product.ReviewCount = reviews
	}

	return product, nil
}

// numberString reads a field that may arrive as a number or a string and
// normalizes it to its decimal string form.
func numberString(raw RawItem, field string) (string, error) {
	value, ok := raw[field]
	if !ok || value == nil {
		return "", &MalformedItemError{Field: field, Reason: "missing"}
	}
	switch v := value.(type) {
	case json.Number:
		return v.String(), nil
	case string:
		if v == "" {
			return "", &MalformedItemError{Field: field, Reason: "empty"}
		}
		return v, nil
	default:
		return "", &MalformedItemError{Field: field, Reason: fmt.Sprintf("unexpected type %T", value)}
	}
}

func requiredString(raw RawItem, field string) (string, error) {
	value, ok := raw[field]
	if !ok || value == nil {
		return "", &MalformedItemError{Field: field, Reason: "missing"}
	}
	s, ok := value.(string)
	if !ok {
		return "", &MalformedItemError{Field: field, Reason: fmt.Sprintf("unexpected type %T", value)}
	}
	if s == "" {
		return "", &MalformedItemError{Field: field, Reason: "empty"}
	}
	return s, nil
}

func optionalString(raw RawItem, field string) string {
	if s, ok := raw[field].(string); ok {
		return s
	}
	return ""
}

func optionalInt(raw RawItem, field string) (int64, bool, error) {
	value, ok := raw[field]
	if !ok || value == nil {
		return 0, false, nil
	}
	number, ok := value.(json.Number)
	if !ok {
		return 0, false, &MalformedItemError{Field: field, Reason: fmt.Sprintf("unexpected type %T", value)}
	}
	parsed, err := number.Int64()
	if err != nil {
		return 0, false, &MalformedItemError{Field: field, Reason: err.Error()}
	}
	return parsed, true, nil
}

func optionalDecimal(raw RawItem, field string) (decimal.Decimal, bool, error) {
	value, ok := raw[field]
	if !ok || value == nil {
		return decimal.Zero, false, nil
	}
	number, ok := value.(json.Number)
	if !ok {
		return decimal.Zero, false, &MalformedItemError{Field: field, Reason: fmt.Sprintf("unexpected type %T", value)}
	}
	parsed, err := decimal.NewFromString(number.String())
	if err != nil {
		return decimal.Zero, false, &MalformedItemError{Field: field, Reason: err.Error()}
	}
	return parsed, true, nil
}

// kopeckPrice reads an integer kopeck amount and shifts it to rubles.
// A missing price maps to zero, matching the upstream's own convention.
func kopeckPrice(raw RawItem, field string) (decimal.Decimal, error) {
	value, ok, err := optionalDecimal(raw, field)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, nil
	}
	if value.IsNegative() {
		return decimal.Zero, &MalformedItemError{Field: field, Reason: "negative price"}
	}
	return value.Shift(-2), nil
}
