// internal/mailer/mailer.go
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lemarche/tender-engine/internal/apperrors"
)

// SendRequest is one transactional send: a provider template plus variables.
type SendRequest struct {
	TemplateCode string            `json:"template_code"`
	ToEmail      string            `json:"to_email"`
	ToName       string            `json:"to_name"`
	Subject      string            `json:"subject"`
	Variables    map[string]string `json:"variables"`
}

type SendResult struct {
	ProviderMessageID string `json:"message_id"`
}

type Mailer interface {
	Send(ctx context.Context, req SendRequest) (SendResult, error)
}

// Client talks to the transactional mail provider over its REST API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL, apiKey string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// Send posts the template send call. 5xx, 408 and 429 are transient; other
// 4xx are permanent (invalid recipient, rejected template).
func (c *Client) Send(ctx context.Context, req SendRequest) (SendResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return SendResult{}, errors.Wrap(err, "marshal send request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transactional/send", bytes.NewReader(body))
	if err != nil {
		return SendResult{}, errors.Wrap(err, "build send request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		// network errors and client timeouts are retryable
		return SendResult{}, &apperrors.TransientExternalError{Op: "mail send", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var result SendResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return SendResult{}, errors.Wrap(err, "decode provider response")
		}
		c.log.Debug().Str("provider_message_id", result.ProviderMessageID).
			Str("template", req.TemplateCode).Msg("mail accepted by provider")
		return result, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout:
		return SendResult{}, &apperrors.TransientExternalError{
			Op:  "mail send",
			Err: providerError(resp),
		}
	default:
		return SendResult{}, &apperrors.PermanentExternalError{
			Op:  "mail send",
			Err: providerError(resp),
		}
	}
}

func providerError(resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet)
}

var _ Mailer = (*Client)(nil)
