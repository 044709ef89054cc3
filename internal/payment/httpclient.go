package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient is the reference Client implementation over the processor's
// REST API. Errors from the processor are decoded into *ProcessorError so
// callers keep the code and type.
type HTTPClient struct {
	base   *url.URL
	apiKey string
	http   *http.Client
}

// NewHTTPClient creates an HTTPClient for the given processor base URL.
func NewHTTPClient(baseURL, apiKey string) (*HTTPClient, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid processor URL %q: %w", baseURL, err)
	}
	return &HTTPClient{
		base:   u,
		apiKey: apiKey,
		http:   &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func (c *HTTPClient) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	var charge Charge
	if err := c.call(ctx, http.MethodPost, "/v1/charges", req, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

func (c *HTTPClient) Refund(ctx context.Context, chargeID string, amountCents int64) (*Refund, error) {
	body := map[string]any{"charge_id": chargeID, "amount_cents": amountCents}
	var refund Refund
	if err := c.call(ctx, http.MethodPost, "/v1/refunds", body, &refund); err != nil {
		return nil, err
	}
	return &refund, nil
}

func (c *HTTPClient) Retrieve(ctx context.Context, chargeID string) (*Charge, error) {
	var charge Charge
	if err := c.call(ctx, http.MethodGet, "/v1/charges/"+url.PathEscape(chargeID), nil, &charge); err != nil {
		return nil, err
	}
	return &charge, nil
}

// processorErrorBody is the processor's error envelope.
type processorErrorBody struct {
	Error ProcessorError `json:"error"`
}

func (c *HTTPClient) call(ctx context.Context, method, path string, payload, out any) error {
	var body *bytes.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling processor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope processorErrorBody
		if derr := json.NewDecoder(resp.Body).Decode(&envelope); derr == nil && envelope.Error.Code != "" {
			return &envelope.Error
		}
		return &ProcessorError{
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Type:    "api_error",
			Message: http.StatusText(resp.StatusCode),
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
