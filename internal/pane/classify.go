package pane

import (
	"fmt"
	"strings"

	"twin-chat/internal/forecast"
)

// BuildRequest includes method only when the user pinned one.
func BuildRequest(query, method string) forecast.Request {
	return forecast.Request{Input: strings.TrimSpace(query), Method: method}
}

// Classify settles t into exactly one reply shape.
func Classify(t *Turn, reply *forecast.Reply, err error) {
	t.Payload = nil
	t.Suggestions = nil
	t.ErrorText = ""

	if err != nil {
		t.Variant = VariantError
		t.ErrorText = fmt.Sprintf("Error: %v", err)
		return
	}

	body := reply.Body
	switch {
	case !reply.OK() || body.Error != "":
		t.ErrorText = body.Error
		if t.ErrorText == "" {
			t.ErrorText = "Request failed"
		}
		if len(body.Suggestions) > 0 {
			t.Variant = VariantSuggestions
			t.Suggestions = body.Suggestions
			return
		}
		t.Variant = VariantError
	case body.Mode == "price_only" || (body.Result == nil && body.Diagnostics == nil):
		t.Variant = VariantPriceOnly
		t.Payload = &body
	default:
		t.Variant = VariantForecast
		t.Payload = &body
	}
}
