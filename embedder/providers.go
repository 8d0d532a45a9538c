package embedder

import (
	"context"
	"fmt"

	chromaemb "github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	chromaopenai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

const DefaultLocalModel = "sentence-transformers/all-MiniLM-L6-v2"

// NewLocal runs a Hugging Face sentence model in process.
func NewLocal(model, modelsDir string) (Model, error) {
	if model == "" {
		model = DefaultLocalModel
	}

	opts := []cybertron.Option{cybertron.WithModel(model)}
	if modelsDir != "" {
		opts = append(opts, cybertron.WithModelsDir(modelsDir))
	}

	client, err := cybertron.NewCybertron(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load local model %s: %w", model, err)
	}

	return wrapClient(client, "local")
}

func NewOllama(serverURL, model string) (Model, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}

	client, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	return wrapClient(client, "ollama")
}

// NewOpenAICompatible talks to any server exposing the OpenAI embeddings API.
// Local servers that need no key get the placeholder token "none".
func NewOpenAICompatible(baseURL, apiKey, model string) (Model, error) {
	if apiKey == "" {
		apiKey = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(apiKey),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai compatible client: %w", err)
	}

	return wrapClient(client, "openai compatible")
}

func NewOpenAI(apiKey, model string) (Model, error) {
	ef, err := chromaopenai.NewOpenAIEmbeddingFunction(
		apiKey,
		chromaopenai.WithModel(chromaopenai.EmbeddingModel(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
	}

	return FromChroma(ef), nil
}

func NewGemini(apiKey, model string) (Model, error) {
	ef, err := gemini.NewGeminiEmbeddingFunction(
		gemini.WithAPIKey(apiKey),
		gemini.WithDefaultModel(chromaemb.EmbeddingModel(model)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
	}

	return FromChroma(ef), nil
}

func wrapClient(client embeddings.EmbedderClient, name string) (Model, error) {
	e, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s embedder: %w", name, err)
	}

	return e, nil
}

type chromaModel struct {
	ef chromaemb.EmbeddingFunction
}

// FromChroma adapts a chroma-go embedding function.
func FromChroma(ef chromaemb.EmbeddingFunction) Model {
	return &chromaModel{ef: ef}
}

func (m *chromaModel) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := m.ef.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	res := make([][]float32, len(embs))
	for i, emb := range embs {
		res[i] = emb.ContentAsFloat32()
	}

	return res, nil
}
