package llm

import "context"

// MockClient is a configurable test double. Set the function fields to
// control behavior; call counters allow verification.
type MockClient struct {
	// RunFunc is called when Run is invoked. If nil, returns "{}" and nil.
	RunFunc func(ctx context.Context, prompt, systemMessage, threadID string) (string, error)

	// CreateEmbeddingFunc is called when CreateEmbedding is invoked.
	// If nil, returns a fixed small vector.
	CreateEmbeddingFunc func(ctx context.Context, input string) ([]float32, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	RunCalls             int
	RunPrompts           []string
	CreateEmbeddingCalls int
}

// NewMockClient creates a mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{ModelName: "mock-model"}
}

// Run implements Client.
func (m *MockClient) Run(ctx context.Context, prompt, systemMessage, threadID string) (string, error) {
	m.RunCalls++
	m.RunPrompts = append(m.RunPrompts, prompt)
	if m.RunFunc != nil {
		return m.RunFunc(ctx, prompt, systemMessage, threadID)
	}
	return "{}", nil
}

// CreateEmbedding implements Client.
func (m *MockClient) CreateEmbedding(ctx context.Context, input string) ([]float32, error) {
	m.CreateEmbeddingCalls++
	if m.CreateEmbeddingFunc != nil {
		return m.CreateEmbeddingFunc(ctx, input)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// Model implements Client.
func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}
