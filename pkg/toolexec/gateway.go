package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	sharedhttp "github.com/dgraft/factengine/pkg/shared/http"
)

// GatewayConfig describes the optional sandboxed remote tool host a call
// can be routed to instead of the local callable (spec.md §4.6 step 6: "a
// remote gateway, e.g. a sandbox host").
type GatewayConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// GatewayClient dispatches a tool call to a remote gateway over HTTP.
type GatewayClient struct {
	cfg    GatewayConfig
	client *http.Client
}

// NewGatewayClient constructs a GatewayClient from cfg.
func NewGatewayClient(cfg GatewayConfig) *GatewayClient {
	clientCfg := sharedhttp.RemoteGatewayClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	return &GatewayClient{
		cfg:    cfg,
		client: sharedhttp.NewClient(clientCfg),
	}
}

type gatewayRequest struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

// Execute invokes toolName on the remote gateway with arguments, returning
// the decoded JSON result.
func (g *GatewayClient) Execute(ctx context.Context, toolName string, arguments map[string]interface{}) (interface{}, error) {
	body, err := json.Marshal(gatewayRequest{Tool: toolName, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("encode gateway request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(data))
	}

	var result interface{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode gateway response: %w", err)
	}
	return result, nil
}
