package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client talks to the external payment processor over its JSON HTTP API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient builds a processor client. The default request timeout matches
// the handler-side Mongo timeout so a stuck gateway cannot pin a request.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents", req, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	var intent Intent
	if err := c.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) ConfirmIntent(ctx context.Context, intentID, paymentMethodID string) (*Intent, error) {
	body := map[string]string{"paymentMethodId": paymentMethodID}
	var intent Intent
	if err := c.do(ctx, http.MethodPost, "/v1/payment_intents/"+intentID+"/confirm", body, &intent); err != nil {
		return nil, err
	}
	return &intent, nil
}

func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	var result RefundResult
	if err := c.do(ctx, http.MethodPost, "/v1/refunds", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type processorErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode processor request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("processor request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read processor response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody processorErrorBody
		if err := json.Unmarshal(raw, &errBody); err != nil {
			log.Printf("[PAYMENT] [ERROR] processor returned %d with unparseable body", resp.StatusCode)
			return &ProcessorError{StatusCode: resp.StatusCode, Code: "unknown", Message: "unexpected processor response"}
		}
		return &ProcessorError{
			StatusCode: resp.StatusCode,
			Code:       errBody.Error.Code,
			Message:    errBody.Error.Message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode processor response: %w", err)
		}
	}
	return nil
}
