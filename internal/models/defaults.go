package models

// Built-in catalog used when no models.yaml is configured. Prices are USD per
// million tokens as listed by OpenRouter.
func defaultModels() []ChatModel {
	return []ChatModel{
		{ID: "xiaomi/mimo-v2-flash:free", Name: "MiMo-V2-Flash", Provider: "Xiaomi", Context: "256K", Tier: TierFree,
			Capabilities: []string{"coding", "reasoning", "agentic"}},
		{ID: "mistralai/devstral-2512:free", Name: "Devstral 2", Provider: "Mistral", Context: "256K", Tier: TierFree,
			Capabilities: []string{"coding", "agentic", "tool-use"}},
		{ID: "allenai/olmo-3.1-32b-think:free", Name: "OLMo 3.1 32B Think", Provider: "Allen AI", Context: "32K", Tier: TierFree,
			Capabilities: []string{"reasoning", "research"}},
		{ID: "allenai/olmo-3-32b-think:free", Name: "OLMo 3 32B Think", Provider: "Allen AI", Context: "32K", Tier: TierFree,
			Capabilities: []string{"reasoning", "research"}},
		{ID: "nvidia/nemotron-3-nano-30b-a3b:free", Name: "Nemotron 3 Nano", Provider: "NVIDIA", Context: "262K", Tier: TierFree,
			Capabilities: []string{"coding", "agentic", "efficient"}},
		{ID: "kwaipilot/kat-coder-pro:free", Name: "KAT Coder Pro", Provider: "Kuaishou", Context: "32K", Tier: TierFree,
			Capabilities: []string{"coding"}},

		{ID: "deepseek/deepseek-v3.2", Name: "DeepSeek V3.2", Provider: "DeepSeek", Context: "131K", Tier: TierBudget,
			Capabilities: []string{"reasoning", "coding", "math", "agentic"}, InputPerMillion: 0.28, OutputPerMillion: 0.48},
		{ID: "deepseek/deepseek-v3.2-speciale", Name: "DeepSeek V3.2 Speciale", Provider: "DeepSeek", Context: "131K", Tier: TierBudget,
			Capabilities: []string{"reasoning", "math", "coding"}, InputPerMillion: 0.28, OutputPerMillion: 0.48},
		{ID: "x-ai/grok-4.1-fast", Name: "Grok 4.1 Fast", Provider: "xAI", Context: "2M", Tier: TierBudget,
			Description:  "Agentic tool calling with built-in web and X search.",
			Capabilities: []string{"agentic", "tool-use", "search", "reasoning"}, InputPerMillion: 0.20, OutputPerMillion: 0.50},
		{ID: "minimax/minimax-m2.1", Name: "MiniMax M2.1", Provider: "MiniMax", Context: "200K", Tier: TierBudget,
			Capabilities: []string{"coding", "agentic", "multilingual"}, InputPerMillion: 0.30, OutputPerMillion: 1.20},
		{ID: "bytedance-seed/seed-1.6", Name: "Seed 1.6 Flash", Provider: "ByteDance", Context: "256K", Tier: TierBudget,
			Capabilities: []string{"reasoning", "vision", "fast"}, InputPerMillion: 0.20, OutputPerMillion: 0.80},
		{ID: "z-ai/glm-4.7", Name: "GLM-4.7", Provider: "Zhipu AI", Context: "128K", Tier: TierBudget,
			Capabilities: []string{"reasoning", "math", "agentic"}, InputPerMillion: 0.30, OutputPerMillion: 1.20},

		{ID: "google/gemini-3-flash-preview", Name: "Gemini 3 Flash", Provider: "Google", Context: "1M", Tier: TierMid,
			Capabilities: []string{"reasoning", "coding", "multimodal", "agentic", "writing"}, InputPerMillion: 0.50, OutputPerMillion: 3.00},
		{ID: "moonshotai/kimi-k2-thinking", Name: "Kimi K2 Thinking", Provider: "Moonshot AI", Context: "256K", Tier: TierMid,
			Capabilities: []string{"reasoning", "agentic", "tool-use", "coding"}, InputPerMillion: 0.40, OutputPerMillion: 2.00},
		{ID: "anthropic/claude-haiku-4.5", Name: "Claude Haiku 4.5", Provider: "Anthropic", Context: "200K", Tier: TierMid,
			Capabilities: []string{"coding", "reasoning", "agentic", "fast"}, InputPerMillion: 1.00, OutputPerMillion: 5.00},
		{ID: "mistralai/ministral-14b-2512", Name: "Ministral 14B", Provider: "Mistral", Context: "128K", Tier: TierMid,
			Capabilities: []string{"general", "fast"}, InputPerMillion: 0.10, OutputPerMillion: 0.30},
		{ID: "mistralai/mistral-small-creative", Name: "Mistral Small Creative", Provider: "Mistral", Context: "32K", Tier: TierMid,
			Capabilities: []string{"creative", "writing"}, InputPerMillion: 0.20, OutputPerMillion: 0.60},
		{ID: "mistralai/mistral-large-2512", Name: "Mistral Large", Provider: "Mistral", Context: "128K", Tier: TierMid,
			Capabilities: []string{"reasoning", "multilingual", "coding"}, InputPerMillion: 2.00, OutputPerMillion: 6.00},

		{ID: "anthropic/claude-sonnet-4.5", Name: "Claude Sonnet 4.5", Provider: "Anthropic", Context: "1M", Tier: TierPremium,
			Capabilities: []string{"coding", "agentic", "reasoning", "tool-use", "writing"}, InputPerMillion: 3.00, OutputPerMillion: 15.00},
		{ID: "google/gemini-3-pro", Name: "Gemini 3 Pro", Provider: "Google", Context: "1M", Tier: TierPremium,
			Capabilities: []string{"reasoning", "multimodal", "coding", "vision"}, InputPerMillion: 2.00, OutputPerMillion: 12.00},
		{ID: "openai/gpt-5.2", Name: "GPT-5.2", Provider: "OpenAI", Context: "128K", Tier: TierPremium,
			Capabilities: []string{"reasoning", "math", "coding", "knowledge"}, InputPerMillion: 5.00, OutputPerMillion: 15.00},

		{ID: "anthropic/claude-opus-4.5", Name: "Claude Opus 4.5", Provider: "Anthropic", Context: "200K", Tier: TierFrontier,
			Capabilities: []string{"reasoning", "coding", "agentic", "research"}, InputPerMillion: 5.00, OutputPerMillion: 25.00},
	}
}

func defaultPresets() map[string]Preset {
	return map[string]Preset{
		"fast": {
			Name:        "fast",
			Description: "Cheapest models for quick iteration.",
			Models: ResearchModels{
				Planner:    "deepseek/deepseek-v3.2",
				Researcher: "x-ai/grok-4.1-fast",
				Writer:     "deepseek/deepseek-v3.2",
				Critic:     "deepseek/deepseek-v3.2",
			},
		},
		"balanced": {
			Name:        "balanced",
			Description: "Stronger planning and writing at moderate cost.",
			Models: ResearchModels{
				Planner:    "anthropic/claude-haiku-4.5",
				Researcher: "x-ai/grok-4.1-fast",
				Writer:     "google/gemini-3-flash-preview",
				Critic:     "deepseek/deepseek-v3.2",
			},
		},
		"quality": {
			Name:        "quality",
			Description: "Best available writing quality.",
			Models: ResearchModels{
				Planner:    "anthropic/claude-sonnet-4.5",
				Researcher: "x-ai/grok-4.1-fast",
				Writer:     "anthropic/claude-sonnet-4.5",
				Critic:     "deepseek/deepseek-v3.2",
			},
		},
	}
}
