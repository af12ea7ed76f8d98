// Package generate produces media assets through interchangeable providers
// with ordered fallback between them.
package generate

import "context"

// Request describes the asset to produce. SourceImage optionally carries an
// already-generated image for providers that derive one asset from another,
// such as image-to-video generation.
type Request struct {
	Prompt      string
	SourceImage []byte
}

// Asset is a generated binary artifact.
type Asset struct {
	Data     []byte
	MIMEType string
}

// Generator produces one asset per call. Implementations classify their
// failures so the fallback chain can tell transient provider trouble from
// requests that no provider should retry.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Asset, error)
}
