// Package bom talks to the bill-of-materials generation service. Parts
// explosion itself happens remotely; the workflow only needs to know whether
// a BOM was produced in time.
package bom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var ErrGenerationRejected = errors.New("bom generation rejected")

type Request struct {
	OrderNumber string `json:"order_number"`
	DeviceType  string `json:"device_type"`
	Priority    string `json:"priority"`
}

type Result struct {
	BOMID     string `json:"bom_id"`
	LineItems int    `json:"line_items"`
}

// Generator produces a BOM for an order. Implementations must honour ctx
// cancellation.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bom request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/boms", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("bom request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrGenerationRejected, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var apiResponse struct {
		Data Result `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResponse); err != nil {
		return nil, fmt.Errorf("failed to decode bom response: %w", err)
	}
	if apiResponse.Data.BOMID == "" {
		return nil, fmt.Errorf("%w: empty bom id", ErrGenerationRejected)
	}

	c.logger.InfoContext(ctx, "bom generated",
		"order_number", req.OrderNumber,
		"bom_id", apiResponse.Data.BOMID,
		"line_items", apiResponse.Data.LineItems)

	return &apiResponse.Data, nil
}

// LocalGenerator stands in when no BOM service is configured. It answers
// immediately with a reference derived from the order number.
type LocalGenerator struct {
	logger *slog.Logger
}

func NewLocalGenerator(logger *slog.Logger) *LocalGenerator {
	return &LocalGenerator{logger: logger}
}

func (g *LocalGenerator) Generate(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.logger.WarnContext(ctx, "no bom service configured, using local placeholder", "order_number", req.OrderNumber)
	return &Result{BOMID: "LOCAL-" + req.OrderNumber}, nil
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (*Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
