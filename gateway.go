package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// GatewayMessage mirrors the chat-completions message shape.
type GatewayMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Gateway sends one prompt to one named model and returns its text.
// Errors are *CallError values carrying a FailureKind. Implementations
// must be safe for concurrent calls to distinct models.
type Gateway interface {
	Call(ctx context.Context, model, role, prompt string, history []GatewayMessage) (string, error)
}

// OpenRouterGateway calls models through the OpenRouter chat-completions
// endpoint. Retry policy deliberately lives here and is "none": the
// orchestrator records failures and moves on.
type OpenRouterGateway struct {
	apiURL  string
	apiKey  string
	timeout time.Duration
	client  *http.Client
}

// NewOpenRouterGateway builds a gateway from the loaded configuration.
func NewOpenRouterGateway() *OpenRouterGateway {
	return &OpenRouterGateway{
		apiURL:  OpenRouterAPIURL,
		apiKey:  OpenRouterAPIKey,
		timeout: ModelQueryTimeout,
		client:  &http.Client{Timeout: ModelQueryTimeout},
	}
}

type openRouterRequest struct {
	Model    string           `json:"model"`
	Messages []GatewayMessage `json:"messages"`
}

type openRouterResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Call sends role (as a system message), prior history, and the prompt to
// the named model.
func (g *OpenRouterGateway) Call(ctx context.Context, model, role, prompt string, history []GatewayMessage) (string, error) {
	messages := make([]GatewayMessage, 0, len(history)+2)
	if role != "" {
		messages = append(messages, GatewayMessage{
			Role:    "system",
			Content: fmt.Sprintf("You are serving as the %s in a multi-model collaboration.", role),
		})
	}
	messages = append(messages, history...)
	messages = append(messages, GatewayMessage{Role: "user", Content: prompt})

	payloadBytes, err := json.Marshal(openRouterRequest{Model: model, Messages: messages})
	if err != nil {
		return "", &CallError{Model: model, Kind: FailureMalformed, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, "POST", g.apiURL, bytes.NewBuffer(payloadBytes))
	if err != nil {
		return "", &CallError{Model: model, Kind: FailureTransport, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &CallError{Model: model, Kind: classifyTransportError(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", &CallError{
			Model: model,
			Kind:  FailureRejected,
			Err:   fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(bodyBytes)),
		}
	}

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &CallError{Model: model, Kind: FailureTransport, Err: err}
	}

	var apiResponse openRouterResponse
	if err := json.Unmarshal(bodyBytes, &apiResponse); err != nil {
		return "", &CallError{Model: model, Kind: FailureMalformed, Err: err}
	}
	if len(apiResponse.Choices) == 0 {
		return "", &CallError{Model: model, Kind: FailureMalformed, Err: errors.New("no choices in response")}
	}

	content := apiResponse.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", &CallError{Model: model, Kind: FailureMalformed, Err: errors.New("empty completion")}
	}
	return content, nil
}

// classifyTransportError separates deadline expiry from everything else on
// the wire.
func classifyTransportError(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	return FailureTransport
}
