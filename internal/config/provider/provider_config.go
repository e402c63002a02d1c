package provider

// ProviderConfig holds credentials and request settings for the LLM that
// writes memory shards.
type ProviderConfig struct {
	// Name pins a registry backend ("openrouter", "anthropic", ...). Empty
	// detects it from the key, base URL and model.
	Name              string            `json:"name,omitempty" yaml:"name,omitempty"`
	APIKey            string            `json:"apiKey" yaml:"apiKey"`
	APIBase           string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	ExtraHeaders      map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
	Model             string            `json:"model" yaml:"model"`
	MaxTokens         int               `json:"maxTokens" yaml:"maxTokens"`
	Temperature       float64           `json:"temperature" yaml:"temperature"`
	RequestsPerMinute int               `json:"requestsPerMinute" yaml:"requestsPerMinute"`
	TimeoutSeconds    int               `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Model:             "anthropic/claude-opus-4-5",
		MaxTokens:         2048,
		Temperature:       0.3,
		RequestsPerMinute: 20,
		TimeoutSeconds:    120,
	}
}
