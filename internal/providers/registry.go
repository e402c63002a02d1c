package providers

import "strings"

// Spec describes one known OpenAI-compatible backend.
type Spec struct {
	Name           string
	DisplayName    string
	Keywords       []string // model-name keywords (lowercase)
	DefaultAPIBase string
	KeyPrefix      string // identifies the backend from an API key
	BaseKeyword    string // identifies the backend from an API base URL
	Anthropic      bool   // speaks the Anthropic Messages API
}

// Specs is the backend registry. Order = match priority.
var Specs = []Spec{
	{
		Name:           "openrouter",
		DisplayName:    "OpenRouter",
		Keywords:       []string{"openrouter"},
		DefaultAPIBase: "https://openrouter.ai/api/v1",
		KeyPrefix:      "sk-or-",
		BaseKeyword:    "openrouter",
	},
	{
		Name:           "anthropic",
		DisplayName:    "Anthropic",
		Keywords:       []string{"anthropic", "claude"},
		DefaultAPIBase: "https://api.anthropic.com/v1",
		KeyPrefix:      "sk-ant-",
		BaseKeyword:    "anthropic.com",
		Anthropic:      true,
	},
	{
		Name:           "deepseek",
		DisplayName:    "DeepSeek",
		Keywords:       []string{"deepseek"},
		DefaultAPIBase: "https://api.deepseek.com/v1",
		BaseKeyword:    "deepseek",
	},
	{
		Name:           "ollama",
		DisplayName:    "Ollama",
		Keywords:       []string{"llama", "qwen", "mistral"},
		DefaultAPIBase: "http://localhost:11434/v1",
		BaseKeyword:    "11434",
	},
	{
		Name:           "openai",
		DisplayName:    "OpenAI",
		Keywords:       []string{"gpt", "o1", "o3", "o4"},
		DefaultAPIBase: "https://api.openai.com/v1",
	},
}

// Detect picks a spec from explicit configuration first (key prefix, base
// URL) and from the model name last. It returns nil when nothing matches.
func Detect(apiKey, apiBase, model string) *Spec {
	for i := range Specs {
		s := &Specs[i]
		if s.KeyPrefix != "" && strings.HasPrefix(apiKey, s.KeyPrefix) {
			return s
		}
		if s.BaseKeyword != "" && apiBase != "" && strings.Contains(strings.ToLower(apiBase), s.BaseKeyword) {
			return s
		}
	}
	lower := strings.ToLower(model)
	for i := range Specs {
		for _, kw := range Specs[i].Keywords {
			if strings.Contains(lower, kw) {
				return &Specs[i]
			}
		}
	}
	return nil
}

// FindByName returns the spec with the given name, or nil.
func FindByName(name string) *Spec {
	for i := range Specs {
		if Specs[i].Name == name {
			return &Specs[i]
		}
	}
	return nil
}
