package gemini

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/okian/courtside/internal/domain/model"
)

type generateRequest struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	ResponseMimeType string        `json:"responseMimeType"`
	ResponseSchema   *model.Schema `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	Error *apiStatus `json:"error"`
}

type apiStatus struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// apiError is a non-2xx reply from the service.
type apiError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *apiError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// classifyStatus maps a service error onto the error taxonomy.
func classifyStatus(e *apiError) error {
	msg := strings.ToLower(e.Message)
	switch {
	case e.StatusCode == 429 || e.Status == "RESOURCE_EXHAUSTED" || strings.Contains(msg, "quota"):
		return fmt.Errorf("%w: %w", model.ErrRateLimit, e)
	case e.StatusCode == 404 || strings.Contains(msg, "requested entity was not found"):
		return model.NotFound(e)
	default:
		return fmt.Errorf("%w: %w", model.ErrConnection, e)
	}
}

func parseAPIError(code int, body []byte) *apiError {
	e := &apiError{StatusCode: code}
	var env struct {
		Error *apiStatus `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		e.Status = env.Error.Status
		e.Message = env.Error.Message
		return e
	}
	e.Message = snippet(string(body))
	return e
}

// candidateText returns the first non-empty text part.
func candidateText(r generateResponse) (string, error) {
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				return t, nil
			}
		}
	}
	if len(r.Candidates) > 0 && r.Candidates[0].FinishReason != "" {
		return "", fmt.Errorf("empty candidate (finish reason %s)", r.Candidates[0].FinishReason)
	}
	return "", errors.New("no candidates")
}

// decodeJSON unmarshals a model payload, tolerating code fences around it.
func decodeJSON(text string, target any) error {
	trimmed := strings.TrimSpace(text)
	err := json.Unmarshal([]byte(trimmed), target)
	if err == nil {
		return nil
	}
	stripped := stripFence(trimmed)
	if stripped == trimmed {
		return fmt.Errorf("%w (payload: %s)", err, snippet(trimmed))
	}
	if err := json.Unmarshal([]byte(stripped), target); err != nil {
		return fmt.Errorf("%w (payload: %s)", err, snippet(stripped))
	}
	return nil
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func snippet(s string) string {
	const limit = 200
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
