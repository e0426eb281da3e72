package models

import "strings"

// WebSearchSuffix enables OpenRouter's web search plugin when appended to a model id.
const WebSearchSuffix = ":online"

// WithWebSearch returns model with the web search suffix, never doubled.
func WithWebSearch(model string) string {
	if model == "" || strings.HasSuffix(model, WebSearchSuffix) {
		return model
	}
	return model + WebSearchSuffix
}

// StripWebSearch removes the web search suffix if present.
func StripWebSearch(model string) string {
	return strings.TrimSuffix(model, WebSearchSuffix)
}

// ShortName returns the part after the vendor prefix, e.g. "grok-4.1-fast"
// for "x-ai/grok-4.1-fast:online".
func ShortName(model string) string {
	model = StripWebSearch(model)
	if i := strings.LastIndex(model, "/"); i >= 0 {
		return model[i+1:]
	}
	return model
}
