package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	apiv1 "github.com/slok/mvm/internal/api/v1"
	"github.com/slok/mvm/internal/model"
)

// ClientConfig is the configuration for the API client.
type ClientConfig struct {
	// BaseURL is the address of the daemon API, e.g. http://127.0.0.1:8080.
	BaseURL    string
	HTTPClient *http.Client
}

func (c *ClientConfig) defaults() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	return nil
}

// Client talks to the daemon HTTP API.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a new API client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpc:   cfg.HTTPClient,
	}, nil
}

// CreateVM creates a VM and waits for it to be running.
func (c *Client) CreateVM(ctx context.Context, req apiv1.CreateVMRequest) (*apiv1.VM, error) {
	var vm apiv1.VM
	if err := c.do(ctx, http.MethodPost, "/api/v1/vms", req, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// ListVMs returns every VM known to the daemon.
func (c *Client) ListVMs(ctx context.Context) ([]apiv1.VM, error) {
	var list apiv1.VMList
	if err := c.do(ctx, http.MethodGet, "/api/v1/vms", nil, &list); err != nil {
		return nil, err
	}
	return list.VMs, nil
}

// GetVM returns a single VM by id.
func (c *Client) GetVM(ctx context.Context, id string) (*apiv1.VM, error) {
	var vm apiv1.VM
	if err := c.do(ctx, http.MethodGet, "/api/v1/vms/"+id, nil, &vm); err != nil {
		return nil, err
	}
	return &vm, nil
}

// StopVM stops a running VM.
func (c *Client) StopVM(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/vms/"+id+"/stop", nil, nil)
}

// DeleteVM removes a VM, stopping it first when it is still running.
func (c *Client) DeleteVM(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/vms/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("calling daemon API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return apiError(resp)
	}

	if respBody != nil {
		if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}

// apiError turns a non-2xx response back into a domain error, so callers can
// keep matching on the model sentinels.
func apiError(resp *http.Response) error {
	var apiErr apiv1.Error
	msg := resp.Status
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	switch resp.StatusCode {
	case http.StatusBadRequest:
		return fmt.Errorf("%s: %w", msg, model.ErrNotValid)
	case http.StatusNotFound:
		return fmt.Errorf("%s: %w", msg, model.ErrNotFound)
	case http.StatusConflict:
		return fmt.Errorf("%s: %w", msg, model.ErrConflict)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%s: %w", msg, model.ErrResourceExhausted)
	default:
		return fmt.Errorf("daemon API error: %s", msg)
	}
}
