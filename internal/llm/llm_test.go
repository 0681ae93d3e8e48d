package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/genai"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"deadline", context.DeadlineExceeded, ErrTimeout},
		{"rate limited", genai.APIError{Code: 429, Message: "quota"}, ErrRateLimited},
		{"server error", genai.APIError{Code: 503, Message: "overloaded"}, ErrTimeout},
		{"bad request", genai.APIError{Code: 400, Message: "blocked"}, ErrInvalidResponse},
		{"unknown transport", errors.New("connection reset"), ErrTimeout},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifyError(tc.in)
			if !errors.Is(got, tc.want) {
				t.Errorf("classifyError(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestTransient(t *testing.T) {
	if !Transient(ErrRateLimited) || !Transient(ErrTimeout) {
		t.Error("Rate limits and timeouts are transient")
	}
	if Transient(ErrInvalidResponse) {
		t.Error("Invalid responses are permanent")
	}
	if !Transient(fmt.Errorf("attempt 3: %w", ErrTimeout)) {
		t.Error("Wrapped transient errors stay transient")
	}
	if Transient(nil) {
		t.Error("nil is not transient")
	}
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := NewClient("", 0); err == nil {
		t.Error("Expected error without an API key")
	}
}
