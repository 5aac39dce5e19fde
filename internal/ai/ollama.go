package ai

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
)

type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	Temperature    float64
}

// OllamaProvider serves both embeddings and completions from a local Ollama server.
type OllamaProvider struct {
	chat        *ollama.LLM
	embed       *ollama.LLM
	temperature float64
}

func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "nomic-embed-text:latest"
	}

	chat, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("init ollama chat model failed: %w", err)
	}
	embed, err := ollama.New(ollama.WithModel(cfg.EmbeddingModel), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("init ollama embedding model failed: %w", err)
	}
	return &OllamaProvider{chat: chat, embed: embed, temperature: cfg.Temperature}, nil
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d vectors for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

func (p *OllamaProvider) options() []llms.CallOption {
	if p.temperature <= 0 {
		return nil
	}
	return []llms.CallOption{llms.WithTemperature(p.temperature)}
}

func (p *OllamaProvider) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, p.chat, prompt, p.options()...)
	if err != nil {
		return "", fmt.Errorf("ollama completion failed: %w", err)
	}
	return out, nil
}

func (p *OllamaProvider) Stream(ctx context.Context, prompt string, onChunk func(string) error) (string, error) {
	opts := append(p.options(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
		if len(chunk) == 0 {
			return nil
		}
		return onChunk(string(chunk))
	}))
	out, err := llms.GenerateFromSinglePrompt(ctx, p.chat, prompt, opts...)
	if err != nil {
		return "", fmt.Errorf("ollama stream failed: %w", err)
	}
	return out, nil
}
