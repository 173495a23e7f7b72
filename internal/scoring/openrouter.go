package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://openrouter.ai/api/v1/chat/completions"

// Client talks to OpenRouter's chat completions API. One Score call is one
// completion against one model.
type Client struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		HTTPClient: &http.Client{Timeout: 90 * time.Second},
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int     `json:"total_tokens"`
		Cost        float64 `json:"cost"`
	} `json:"usage"`
}

// graderPayload is the strict shape the grader model must emit.
type graderPayload struct {
	Percentage *float64 `json:"percentage"`
	Feedback   Feedback `json:"feedback"`
}

// Score runs one grading completion. Network errors, timeouts, 429 and 5xx
// are transient; auth failures, other 4xx and unparseable output are
// permanent.
func (c *Client) Score(ctx context.Context, req Request, model string) (*ScoreResult, error) {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: buildPrompt(req)}},
		Temperature: 0.3,
	})
	if err != nil {
		return nil, permanentErr(model, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, permanentErr(model, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, transientErr(model, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to parsing
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, transientErr(model, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil, permanentErr(model, fmt.Errorf("status %d", resp.StatusCode))
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, permanentErr(model, fmt.Errorf("decode response: %w", err))
	}
	if len(cr.Choices) == 0 {
		return nil, permanentErr(model, errors.New("empty choices"))
	}

	payload, err := parseGraderPayload(cr.Choices[0].Message.Content)
	if err != nil {
		return nil, permanentErr(model, err)
	}

	return &ScoreResult{
		ProviderID: model,
		Percentage: *payload.Percentage,
		Feedback:   payload.Feedback,
		CostUSD:    cr.Usage.Cost,
		Tokens:     cr.Usage.TotalTokens,
	}, nil
}

// parseGraderPayload validates the model's JSON output. Models sometimes
// wrap JSON in a markdown fence, so that is stripped first; anything else
// malformed is rejected.
func parseGraderPayload(content string) (*graderPayload, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	}
	var p graderPayload
	dec := json.NewDecoder(strings.NewReader(content))
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("malformed grader output: %w", err)
	}
	if p.Percentage == nil {
		return nil, errors.New("grader output missing percentage")
	}
	if *p.Percentage < 0 || *p.Percentage > 100 {
		return nil, fmt.Errorf("grader percentage %v out of range", *p.Percentage)
	}
	return &p, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	b.WriteString("You are an experienced examiner. Grade the essay below against the brief and rubric.\n\n")
	fmt.Fprintf(&b, "<brief>\nTitle: %s\nSubject: %s\nLevel: %s\nInstructions: %s\n</brief>\n\n", req.Title, req.Subject, req.AcademicLevel, req.Instructions)
	if req.Rubric != "" {
		fmt.Fprintf(&b, "<rubric>\n%s\n</rubric>\n\n", req.Rubric)
	}
	if len(req.FocusAreas) > 0 {
		fmt.Fprintf(&b, "<focus_areas>\n%s\n</focus_areas>\n\n", strings.Join(req.FocusAreas, "\n"))
	}
	fmt.Fprintf(&b, "<essay>\n%s\n</essay>\n\n", req.Content)
	b.WriteString(`Respond with JSON only, no prose, matching exactly:
{
  "percentage": <0-100>,
  "feedback": {
    "strengths": [{"title": "...", "description": "...", "evidence": "..."}],
    "improvements": [{"title": "...", "description": "...", "suggestion": "..."}],
    "language_tips": ["..."]
  }
}`)
	return b.String()
}
