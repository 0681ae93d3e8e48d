package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the default Gemini model used for summarization.
	DefaultModel = "gemini-flash-lite-latest"
	// summarizePromptTemplate frames the raw item text for the model.
	summarizePromptTemplate = `Summarize the following content in 3-5 sentences for a daily digest email. Focus on what happened and why it matters. Write only the summary, no meta-commentary.

---
%s
---`
)

// Error taxonomy of the summarization capability. RateLimited and Timeout
// are transient; InvalidResponse is permanent for the given input.
var (
	ErrRateLimited     = errors.New("summarization rate limited")
	ErrTimeout         = errors.New("summarization timed out")
	ErrInvalidResponse = errors.New("summarization returned an invalid response")
)

// Client wraps the Gemini API as the text summarization capability.
type Client struct {
	modelName string
	timeout   time.Duration
	gClient   *genai.Client
}

// NewClient creates a Gemini-backed summarization client. The API key is
// read from GEMINI_API_KEY or the gemini.api_key config entry; a missing
// key is a configuration error, fatal at startup rather than per run.
func NewClient(modelName string, timeout time.Duration) (*Client, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = viper.GetString("gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required: set GEMINI_API_KEY or gemini.api_key in config")
	}

	if modelName == "" {
		modelName = viper.GetString("gemini.model")
		if modelName == "" {
			modelName = DefaultModel
		}
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	gClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{modelName: modelName, timeout: timeout, gClient: gClient}, nil
}

// ModelVersion identifies the model producing summaries; it keys the
// summary cache together with the item fingerprint.
func (c *Client) ModelVersion() string {
	return c.modelName
}

// Summarize generates a digest summary for the given raw text. Failures
// are mapped onto the capability's error taxonomy.
func (c *Client) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidResponse)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: fmt.Sprintf(summarizePromptTemplate, text)}},
		Role:  "user",
	}}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, nil)
	if err != nil {
		return "", classifyError(err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return "", fmt.Errorf("%w: empty model output", ErrInvalidResponse)
	}
	return summary, nil
}

// classifyError maps transport and API errors onto the taxonomy.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case apiErr.Code >= http.StatusInternalServerError:
			// Upstream 5xx behaves like a timeout: transient, retryable.
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		default:
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}

	return fmt.Errorf("%w: %v", ErrTimeout, err)
}

// Transient reports whether the error is worth retrying with backoff.
func Transient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}
