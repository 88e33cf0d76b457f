package main

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/poloai/polochat/internal/handlers"
	"github.com/poloai/polochat/internal/services"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	modelName() string
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string    `yaml:"port"`
	SystemPrompt string    `yaml:"systemPrompt"`
	LLM          llmConfig `yaml:"llm"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

// defaultSystemPrompt steers the model toward structured, conservative
// finance answers. A deployment can override it in the config file.
const defaultSystemPrompt = `You are PoloChat, an expert financial assistant specializing in
personal finance, investments, loans, insurance, taxation, retirement
planning, cryptocurrency, and real estate.

Structure every response in a clear, point-wise format: bullet points for
main points, numbered lists for sequential steps, concise sentences, and
specific numbers or ranges where applicable. Always include relevant
disclaimers for investment advice and be conservative and risk-aware in
recommendations. Only answer finance-related questions; politely decline
everything else.`

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		LLM          map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "ollama":
		llm = &ollamaConfig{}
	case "openai":
		llm = &openAIConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	return services.NewOllama(host, o.Model, systemPrompt), nil
}

func (o ollamaConfig) modelName() string {
	return o.Model
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.Model, systemPrompt, logger), nil
}

func (o openAIConfig) modelName() string {
	return o.Model
}
