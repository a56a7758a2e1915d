package ai

import "context"

// Embedder binds a Client to one embedding model so callers don't carry
// the config around.
type Embedder struct {
	client *Client
	cfg    EmbeddingConfig
}

func NewEmbedder(client *Client, cfg EmbeddingConfig) *Embedder {
	return &Embedder{client: client, cfg: cfg}
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.cfg, text)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return e.client.EmbedBatch(ctx, e.cfg, texts)
}

// Chat binds a Client to one chat model.
type Chat struct {
	client *Client
	cfg    ChatConfig
}

func NewChat(client *Client, cfg ChatConfig) *Chat {
	return &Chat{client: client, cfg: cfg}
}

func (c *Chat) Complete(ctx context.Context, messages []ChatMessage) (string, error) {
	return c.client.Complete(ctx, c.cfg, messages)
}
