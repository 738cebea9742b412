// Package claude adapts the Anthropic Messages streaming API to the uniform
// provider contract. Unlike the subprocess backends there is no process to
// supervise: each run is one streaming API call, and conversation state
// lives client-side as a transcript replayed on every turn.
package claude

import (
	"context"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// StreamClient is the slice of the Anthropic SDK the adapter consumes.
// Tests substitute a fake; production wraps the real client.
type StreamClient interface {
	NewStreaming(ctx context.Context, params sdk.MessageNewParams) EventSource
}

// EventSource is one in-flight streaming response.
type EventSource interface {
	Next(ctx context.Context) (sdk.MessageStreamEventUnion, error)
	Close() error
}

// apiClient wraps the real SDK client.
type apiClient struct {
	messages *sdk.MessageService
}

// NewAPIClient builds a StreamClient over the Anthropic API. With no
// options the SDK reads ANTHROPIC_API_KEY from the environment.
func NewAPIClient(opts ...option.RequestOption) StreamClient {
	c := sdk.NewClient(opts...)
	return &apiClient{messages: &c.Messages}
}

func (c *apiClient) NewStreaming(ctx context.Context, params sdk.MessageNewParams) EventSource {
	return &sseSource{stream: c.messages.NewStreaming(ctx, params)}
}

// sseSource adapts the SDK's pull-based SSE stream to the pump's Source
// shape. The SDK stream carries its own context from NewStreaming, so Next
// only has to check the caller's.
type sseSource struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *sseSource) Next(ctx context.Context) (sdk.MessageStreamEventUnion, error) {
	if err := ctx.Err(); err != nil {
		return sdk.MessageStreamEventUnion{}, err
	}
	if s.stream.Next() {
		return s.stream.Current(), nil
	}
	if err := s.stream.Err(); err != nil {
		return sdk.MessageStreamEventUnion{}, err
	}
	return sdk.MessageStreamEventUnion{}, io.EOF
}

func (s *sseSource) Close() error { return s.stream.Close() }
