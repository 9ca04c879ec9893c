// Package llm initializes the langchaingo model backing the chat engine.
package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/nick-cummings/personal-assistant/internal/utils"
)

// Provider represents the available LLM providers
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderAnthropic  Provider = "anthropic"
	ProviderBedrock    Provider = "bedrock"
	ProviderOllama     Provider = "ollama"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Config holds configuration for LLM initialization
type Config struct {
	Provider Provider
	ModelID  string
	Logger   utils.ExtendedLogger
}

// ValidateProvider parses a provider string, defaulting to openai.
func ValidateProvider(s string) (Provider, error) {
	if s == "" {
		return ProviderOpenAI, nil
	}
	switch p := Provider(s); p {
	case ProviderOpenAI, ProviderOpenRouter, ProviderAnthropic, ProviderBedrock, ProviderOllama:
		return p, nil
	default:
		return "", fmt.Errorf("unsupported LLM provider: %s", s)
	}
}

// Initialize creates the langchaingo model for the configured provider.
// API keys come from the environment: OPENAI_API_KEY, OPENROUTER_API_KEY,
// ANTHROPIC_API_KEY, the AWS default credential chain for Bedrock, and
// OLLAMA_HOST for a local Ollama.
func Initialize(config Config) (llms.Model, error) {
	switch config.Provider {
	case ProviderOpenAI:
		return initializeOpenAI(config)
	case ProviderOpenRouter:
		return initializeOpenRouter(config)
	case ProviderAnthropic:
		return initializeAnthropic(config)
	case ProviderBedrock:
		return initializeBedrock(config)
	case ProviderOllama:
		return initializeOllama(config)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", config.Provider)
	}
}

func initializeOpenAI(config Config) (llms.Model, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}

	model, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(config.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI model: %w", err)
	}

	config.Logger.Infof("Initialized OpenAI model: %s", config.ModelID)
	return model, nil
}

// initializeOpenRouter reuses the OpenAI client against OpenRouter's
// OpenAI-compatible endpoint.
func initializeOpenRouter(config Config) (llms.Model, error) {
	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENROUTER_API_KEY environment variable not set")
	}

	model, err := openai.New(
		openai.WithToken(apiKey),
		openai.WithModel(config.ModelID),
		openai.WithBaseURL(openRouterBaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenRouter model: %w", err)
	}

	config.Logger.Infof("Initialized OpenRouter model: %s", config.ModelID)
	return model, nil
}

func initializeAnthropic(config Config) (llms.Model, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable not set")
	}

	model, err := anthropic.New(
		anthropic.WithToken(apiKey),
		anthropic.WithModel(config.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Anthropic model: %w", err)
	}

	config.Logger.Infof("Initialized Anthropic model: %s", config.ModelID)
	return model, nil
}

func initializeBedrock(config Config) (llms.Model, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := bedrockruntime.NewFromConfig(cfg)
	model, err := bedrock.New(
		bedrock.WithClient(client),
		bedrock.WithModel(config.ModelID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Bedrock model: %w", err)
	}

	config.Logger.Infof("Initialized Bedrock model: %s (region: %s)", config.ModelID, cfg.Region)
	return model, nil
}

func initializeOllama(config Config) (llms.Model, error) {
	opts := []ollama.Option{ollama.WithModel(config.ModelID)}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		opts = append(opts, ollama.WithServerURL(host))
	}

	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Ollama model: %w", err)
	}

	config.Logger.Infof("Initialized Ollama model: %s", config.ModelID)
	return model, nil
}
