package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/kyleking/askdb/internal/llm"
)

// ErrScriptExhausted is returned by ScriptedLLM once every scripted reply was used
var ErrScriptExhausted = errors.New("scripted LLM has no more responses")

// ScriptedLLM replays a fixed list of completions in order
type ScriptedLLM struct {
	mu sync.Mutex

	replies   []scriptedReply
	responder func(llm.Request) (string, error)
	requests  []llm.Request
}

type scriptedReply struct {
	text string
	err  error
}

// MockOption is a functional option for configuring ScriptedLLM
type MockOption func(*ScriptedLLM)

// WithReplies queues completion texts
func WithReplies(texts ...string) MockOption {
	return func(m *ScriptedLLM) {
		for _, t := range texts {
			m.replies = append(m.replies, scriptedReply{text: t})
		}
	}
}

// WithFailure queues a failing call
func WithFailure(err error) MockOption {
	return func(m *ScriptedLLM) {
		m.replies = append(m.replies, scriptedReply{err: err})
	}
}

// WithResponder answers every call not covered by the queue
func WithResponder(fn func(llm.Request) (string, error)) MockOption {
	return func(m *ScriptedLLM) {
		m.responder = fn
	}
}

// NewScriptedLLM creates a scripted completion service
func NewScriptedLLM(opts ...MockOption) *ScriptedLLM {
	m := &ScriptedLLM{}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Complete returns the next scripted reply
func (m *ScriptedLLM) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		text string
		err  error
	)

	switch {
	case len(m.replies) > 0:
		next := m.replies[0]
		m.replies = m.replies[1:]
		text, err = next.text, next.err
	case m.responder != nil:
		text, err = m.responder(req)
	default:
		err = ErrScriptExhausted
	}

	if err != nil {
		return nil, err
	}

	return &llm.Response{Text: text, Provider: "scripted", Model: "test"}, nil
}

// Requests returns a copy of every request received
func (m *ScriptedLLM) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]llm.Request(nil), m.requests...)
}

// CallCount returns the number of Complete calls
func (m *ScriptedLLM) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.requests)
}

// RouteBySystemPrompt builds a responder that picks a reply by a substring of the
// system prompt, so generation and validation calls can be scripted independently
func RouteBySystemPrompt(routes map[string]string) func(llm.Request) (string, error) {
	return func(req llm.Request) (string, error) {
		for marker, reply := range routes {
			if strings.Contains(req.System, marker) {
				return reply, nil
			}
		}

		return "", ErrScriptExhausted
	}
}

// MockService is a testify mock of llm.Service
type MockService struct {
	mock.Mock
}

// Complete records the call and returns the configured values
func (m *MockService) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	args := m.Called(ctx, req)

	resp, _ := args.Get(0).(*llm.Response)

	return resp, args.Error(1)
}

// Text wraps a completion text in a response
func Text(text string) *llm.Response {
	return &llm.Response{Text: text, Provider: "mock", Model: "test"}
}
