// Package provider selects and constructs the LLM chat model that answers
// questions. Supported backends: Groq (default), Ollama, OpenAI, Azure
// OpenAI, Google Gemini and Volcengine Ark. Every backend is an eino
// model.BaseChatModel, so the answer pipeline is backend-agnostic.
package provider

import (
	"fmt"
	"strings"
)

// Backend enumerates the supported LLM inference providers.
type Backend string

const (
	// BackendGroq selects Groq's hosted OpenAI-compatible API.
	BackendGroq Backend = "groq"
	// BackendOllama selects a locally running Ollama instance.
	BackendOllama Backend = "ollama"
	// BackendOpenAI selects the OpenAI API.
	BackendOpenAI Backend = "openai"
	// BackendAzure selects Azure OpenAI Service.
	BackendAzure Backend = "azure"
	// BackendGemini selects Google Gemini via AI Studio.
	BackendGemini Backend = "gemini"
	// BackendArk selects Volcengine Ark.
	BackendArk Backend = "ark"
)

// Default models, matching the defaults of NewFromEnv.
const (
	DefaultGroqModel    = "llama-3.1-8b-instant"
	DefaultGroqBaseURL  = "https://api.groq.com/openai/v1"
	DefaultOllamaHost   = "http://localhost:11434"
	DefaultOllamaModel  = "llama3.1"
	DefaultOpenAIModel  = "gpt-4o-mini"
	DefaultGeminiModel  = "gemini-1.5-flash"
	DefaultTemperature  = 0.1
	DefaultMaxTokens    = 2048
	defaultAzureVersion = "2024-02-01"
)

// Config holds all provider-level configuration, one section per backend.
// Only the section selected by Backend is used.
type Config struct {
	// Backend identifies which inference provider to use.
	Backend Backend

	// Groq holds Groq settings.
	Groq ProviderGroq
	// Ollama holds Ollama settings.
	Ollama ProviderOllama
	// OpenAI holds OpenAI settings.
	OpenAI ProviderOpenAI
	// AzureOpenAI holds Azure OpenAI settings.
	AzureOpenAI ProviderAzureOpenAI
	// Gemini holds Google Gemini settings.
	Gemini ProviderGemini
	// Ark holds Volcengine Ark settings.
	Ark ProviderArk

	// Tuning holds generation parameters shared by all backends.
	Tuning SharedTuning
}

// ProviderGroq configures the Groq backend.
type ProviderGroq struct {
	// APIKey is read from GROQ_API_KEY.
	APIKey string
	// Model is the Groq model name.
	Model string
	// BaseURL overrides the Groq API endpoint.
	BaseURL string
}

// ProviderOllama configures the Ollama backend.
type ProviderOllama struct {
	// Host is the Ollama server URL.
	Host string
	// Model is the Ollama model name.
	Model string
}

// ProviderOpenAI configures the OpenAI backend.
type ProviderOpenAI struct {
	// APIKey is read from OPENAI_API_KEY.
	APIKey string
	// Model is the OpenAI model name.
	Model string
}

// ProviderAzureOpenAI configures the Azure OpenAI backend.
type ProviderAzureOpenAI struct {
	// APIKey is read from AZURE_OPENAI_API_KEY.
	APIKey string
	// Endpoint is the resource endpoint URL.
	Endpoint string
	// Deployment is the deployment name used as the model.
	Deployment string
	// APIVersion is the Azure OpenAI REST API version.
	APIVersion string
}

// ProviderGemini configures the Gemini backend.
type ProviderGemini struct {
	// APIKey is read from GOOGLE_API_KEY.
	APIKey string
	// Model is the Gemini model name.
	Model string
}

// ProviderArk configures the Volcengine Ark backend.
type ProviderArk struct {
	// APIKey is read from ARK_API_KEY.
	APIKey string
	// Model is the Ark endpoint or model ID.
	Model string
	// BaseURL overrides the Ark API endpoint.
	BaseURL string
}

// SharedTuning holds generation parameters.
type SharedTuning struct {
	// MaxTokens caps the number of tokens generated per answer.
	MaxTokens int
	// Temperature controls response randomness (0.0–1.0). Answers over
	// documentation favour low values.
	Temperature float32
}

// ModelName returns the model the selected backend will call.
func (c *Config) ModelName() string {
	switch c.Backend {
	case BackendGroq:
		return c.Groq.Model
	case BackendOllama:
		return c.Ollama.Model
	case BackendOpenAI:
		return c.OpenAI.Model
	case BackendAzure:
		return c.AzureOpenAI.Deployment
	case BackendGemini:
		return c.Gemini.Model
	case BackendArk:
		return c.Ark.Model
	default:
		return ""
	}
}

// Validate checks that the selected backend has everything it needs, naming
// the environment variable to set when something is missing.
func (c *Config) Validate() error {
	missing := func(env string) error {
		return fmt.Errorf("provider: %s is required for %s backend", env, c.Backend)
	}

	switch c.Backend {
	case BackendGroq:
		if c.Groq.APIKey == "" {
			return missing("GROQ_API_KEY")
		}
		if c.Groq.Model == "" {
			return missing("GROQ_MODEL")
		}
	case BackendOllama:
		if c.Ollama.Model == "" {
			return missing("OLLAMA_MODEL")
		}
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			return missing("OPENAI_API_KEY")
		}
		if c.OpenAI.Model == "" {
			return missing("OPENAI_MODEL")
		}
	case BackendAzure:
		if c.AzureOpenAI.APIKey == "" {
			return missing("AZURE_OPENAI_API_KEY")
		}
		if c.AzureOpenAI.Endpoint == "" {
			return missing("AZURE_OPENAI_ENDPOINT")
		}
		if c.AzureOpenAI.Deployment == "" {
			return missing("AZURE_OPENAI_DEPLOYMENT")
		}
	case BackendGemini:
		if c.Gemini.APIKey == "" {
			return missing("GOOGLE_API_KEY")
		}
		if c.Gemini.Model == "" {
			return missing("GEMINI_MODEL")
		}
	case BackendArk:
		if c.Ark.APIKey == "" {
			return missing("ARK_API_KEY")
		}
		if c.Ark.Model == "" {
			return missing("ARK_MODEL")
		}
	default:
		return fmt.Errorf("provider: unknown backend %q; valid values: groq, ollama, openai, azure, gemini, ark", c.Backend)
	}

	if c.Tuning.Temperature < 0 || c.Tuning.Temperature > 2 {
		return fmt.Errorf("provider: MODEL_TEMPERATURE must be in [0, 2], got %v", c.Tuning.Temperature)
	}
	return nil
}

// isAzureReasoningModel reports whether an Azure deployment is an o-series or
// codex reasoning model. Those reject temperature and max_tokens.
func isAzureReasoningModel(deployment string) bool {
	d := strings.ToLower(deployment)
	for _, p := range []string{"o1", "o3", "o4", "codex"} {
		if d == p || strings.HasPrefix(d, p+"-") {
			return true
		}
	}
	return false
}
