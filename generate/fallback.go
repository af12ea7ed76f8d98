package generate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/deepnoodle-ai/autopost/fault"
)

// Result is a successful chain outcome: the asset plus which provider
// produced it and every provider tried along the way.
type Result struct {
	Asset     *Asset
	Provider  string
	Attempted []string
}

// Chain tries generators in configuration order. A recoverable failure moves
// on to the next provider; a fatal one aborts the chain immediately, since a
// rejected prompt will be rejected everywhere.
type Chain struct {
	name       string
	generators []Generator
	logger     *slog.Logger
}

// NewChain creates a fallback chain. The name labels the chain in logs and
// errors, e.g. "image" or "video".
func NewChain(name string, generators []Generator, logger *slog.Logger) (*Chain, error) {
	if name == "" {
		return nil, fmt.Errorf("chain name is required")
	}
	if len(generators) == 0 {
		return nil, fmt.Errorf("chain %q requires at least one generator", name)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Chain{name: name, generators: generators, logger: logger}, nil
}

// Name returns the chain's label.
func (c *Chain) Name() string {
	return c.name
}

// Generate runs the fallback sequence for one request.
func (c *Chain) Generate(ctx context.Context, req Request) (*Result, error) {
	var attempted []string
	var lastErr error

	for _, gen := range c.generators {
		attempted = append(attempted, gen.Name())

		asset, err := gen.Generate(ctx, req)
		if err == nil {
			c.logger.Info("generated asset",
				"chain", c.name, "provider", gen.Name(), "bytes", len(asset.Data))
			return &Result{Asset: asset, Provider: gen.Name(), Attempted: attempted}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !fault.IsRecoverable(err) {
			return nil, fmt.Errorf("%s provider %s: %w", c.name, gen.Name(), err)
		}
		c.logger.Warn("provider unavailable, trying next",
			"chain", c.name, "provider", gen.Name(), "error", err)
		lastErr = err
	}

	return nil, &fault.Error{
		Kind:    fault.KindUpstreamUnavailable,
		Cause:   fmt.Sprintf("all %s providers failed (tried %v)", c.name, attempted),
		Wrapped: lastErr,
	}
}
