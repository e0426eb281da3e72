package models

import "strings"

// vendorAliases maps OpenRouter vendor prefixes to provider labels.
var vendorAliases = map[string]string{
	"x-ai":           "xai",
	"z-ai":           "zai",
	"mistralai":      "mistral",
	"moonshotai":     "moonshot",
	"bytedance-seed": "bytedance",
	"allenai":        "allenai",
	"meta-llama":     "meta",
}

// DetectProvider returns a stable provider label for a model id, used as a
// metrics label. OpenRouter ids ("vendor/model") use the vendor prefix;
// bare ids fall back to name patterns.
func DetectProvider(model string) string {
	model = StripWebSearch(strings.TrimSpace(model))
	if model == "" {
		return "unknown"
	}
	if i := strings.Index(model, "/"); i > 0 {
		vendor := strings.ToLower(model[:i])
		if alias, ok := vendorAliases[vendor]; ok {
			return alias
		}
		return vendor
	}
	return detectProviderFromPattern(model)
}

func detectProviderFromPattern(model string) string {
	ml := strings.ToLower(model)

	switch {
	case strings.Contains(ml, "gpt-") || strings.HasPrefix(ml, "o1") || strings.HasPrefix(ml, "o3"):
		return "openai"
	case strings.Contains(ml, "claude") || strings.Contains(ml, "opus") ||
		strings.Contains(ml, "sonnet") || strings.Contains(ml, "haiku"):
		return "anthropic"
	case strings.Contains(ml, "gemini"):
		return "google"
	case strings.Contains(ml, "deepseek"):
		return "deepseek"
	case strings.Contains(ml, "grok"):
		return "xai"
	// before llama: some mistral fine-tunes carry llama in the name
	case strings.Contains(ml, "mistral") || strings.Contains(ml, "mixtral") ||
		strings.Contains(ml, "ministral") || strings.Contains(ml, "devstral"):
		return "mistral"
	case strings.Contains(ml, "llama"):
		return "meta"
	case strings.Contains(ml, "glm"):
		return "zai"
	case strings.Contains(ml, "kimi"):
		return "moonshot"
	case strings.Contains(ml, "qwen"):
		return "qwen"
	}
	return "unknown"
}
