// Package llm talks to the local Ollama-compatible inference server and
// drives the tool-calling conversation loop.
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/robin-sci/health-assistant/pkg/models"
)

const (
	// maxToolRounds caps the number of model round-trips in one
	// tool-calling exchange.
	maxToolRounds = 8

	// ReasonToolLoopExhausted is the error reason emitted when the model
	// keeps requesting tools past the round cap.
	ReasonToolLoopExhausted = "tool_loop_exhausted"

	defaultTimeout     = 2 * time.Minute
	healthCheckTimeout = 5 * time.Second
)

// Config configures the inference client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// ChatModel and ExtractionModel are the configured model names,
	// reported (with availability) by HealthCheck.
	ChatModel       string
	ExtractionModel string
}

// Client is a thin wrapper over the Ollama chat API. It is safe for
// concurrent use.
type Client struct {
	client          *http.Client
	baseURL         string
	chatModel       string
	extractionModel string
}

// NewClient creates an inference client.
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		client:          &http.Client{Timeout: timeout},
		baseURL:         baseURL,
		chatModel:       cfg.ChatModel,
		extractionModel: cfg.ExtractionModel,
	}
}

// ToolExecutor supplies tool definitions and executes calls the model makes.
// Dispatch always returns a JSON string, encoding failures as error payloads
// the model can read.
type ToolExecutor interface {
	Definitions() []openai.Tool
	Dispatch(ctx context.Context, name string, args json.RawMessage) string
}

// Message is one turn in the chat wire format.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

// ToolCall is a model-requested tool invocation on the wire.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its arguments.
type ToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Tools    []openai.Tool  `json:"tools,omitempty"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message *Message `json:"message"`
	Done    bool     `json:"done"`
	Error   string   `json:"error"`
}

// HealthStatus is the result of probing the inference server.
type HealthStatus struct {
	Reachable                 bool     `json:"reachable"`
	Error                     string   `json:"error,omitempty"`
	InstalledModels           []string `json:"installed_models"`
	ConfiguredChatModel       string   `json:"configured_chat_model"`
	ConfiguredExtractionModel string   `json:"configured_extraction_model"`
	ChatModelAvailable        bool     `json:"chat_model_available"`
	ExtractionModelAvailable  bool     `json:"extraction_model_available"`
}

// HealthCheck probes the inference server's model listing endpoint and
// reports reachability, the installed models, and whether the configured
// models are among them. It never returns an error; failures are carried
// in the status.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		InstalledModels:           []string{},
		ConfiguredChatModel:       c.chatModel,
		ConfiguredExtractionModel: c.extractionModel,
	}

	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	resp, err := c.client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("inference unreachable: %v", err)
		return status
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 8<<10))
		status.Error = fmt.Sprintf("inference status %d", resp.StatusCode)
		return status
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tags); err != nil {
		status.Error = fmt.Sprintf("decode model list: %v", err)
		return status
	}

	status.Reachable = true
	for _, m := range tags.Models {
		status.InstalledModels = append(status.InstalledModels, m.Name)
		if m.Name == c.chatModel {
			status.ChatModelAvailable = true
		}
		if m.Name == c.extractionModel {
			status.ExtractionModelAvailable = true
		}
	}
	return status
}

// ChatOptions tunes a non-streaming completion.
type ChatOptions struct {
	// JSONFormat constrains the model to emit a single JSON value.
	JSONFormat bool
	// Temperature overrides the model default when >= 0.
	Temperature float64
}

// Chat runs a non-streaming completion and returns the assistant content.
func (c *Client) Chat(ctx context.Context, model string, msgs []Message, opts ChatOptions) (string, error) {
	payload := chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
	}
	if opts.JSONFormat {
		payload.Format = "json"
	}
	if opts.Temperature >= 0 {
		payload.Options = map[string]any{"temperature": opts.Temperature}
	}

	resp, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != "" {
		return "", errors.New(decoded.Error)
	}
	if decoded.Message == nil {
		return "", errors.New("empty completion")
	}
	return decoded.Message.Content, nil
}

// ChatStream runs a streaming completion without tools. Content deltas arrive
// as content events; the channel always closes after exactly one terminal
// event (done or error).
func (c *Client) ChatStream(ctx context.Context, model string, msgs []Message) (<-chan models.StreamEvent, error) {
	payload := chatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   true,
	}
	resp, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)
		_, _, err := c.readStream(ctx, resp.Body, func(delta string) {
			out <- models.StreamEvent{Type: models.EventContent, Content: delta}
		})
		if err != nil {
			out <- models.StreamEvent{Type: models.EventError, Error: err.Error()}
			return
		}
		out <- models.StreamEvent{Type: models.EventDone}
	}()
	return out, nil
}

// ChatWithTools runs the tool-calling loop: stream a completion, execute any
// requested tools, feed the results back, and repeat until the model answers
// without tools or the round cap is hit. Events are emitted as they happen
// and the channel closes after exactly one terminal event.
func (c *Client) ChatWithTools(ctx context.Context, model string, msgs []Message, exec ToolExecutor) <-chan models.StreamEvent {
	out := make(chan models.StreamEvent, 16)
	go func() {
		defer close(out)
		c.runToolLoop(ctx, model, msgs, exec, out)
	}()
	return out
}

func (c *Client) runToolLoop(ctx context.Context, model string, msgs []Message, exec ToolExecutor, out chan<- models.StreamEvent) {
	transcript := make([]Message, len(msgs))
	copy(transcript, msgs)

	var tools []openai.Tool
	if exec != nil {
		tools = exec.Definitions()
	}

	for round := 0; round < maxToolRounds; round++ {
		payload := chatRequest{
			Model:    model,
			Messages: transcript,
			Tools:    tools,
			Stream:   true,
		}
		resp, err := c.post(ctx, payload)
		if err != nil {
			out <- models.StreamEvent{Type: models.EventError, Error: err.Error()}
			return
		}

		content, toolCalls, err := c.readStream(ctx, resp.Body, func(delta string) {
			out <- models.StreamEvent{Type: models.EventContent, Content: delta}
		})
		if err != nil {
			out <- models.StreamEvent{Type: models.EventError, Error: err.Error()}
			return
		}

		if len(toolCalls) == 0 {
			out <- models.StreamEvent{Type: models.EventDone}
			return
		}

		transcript = append(transcript, Message{
			Role:      string(models.RoleAssistant),
			Content:   content,
			ToolCalls: toolCalls,
		})
		for _, tc := range toolCalls {
			args := tc.Function.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			out <- models.StreamEvent{
				Type:      models.EventToolCall,
				Name:      tc.Function.Name,
				Arguments: args,
			}
			result := exec.Dispatch(ctx, tc.Function.Name, args)
			out <- models.StreamEvent{
				Type:   models.EventToolResult,
				Name:   tc.Function.Name,
				Result: result,
			}
			transcript = append(transcript, Message{
				Role:     string(models.RoleTool),
				Content:  result,
				ToolName: tc.Function.Name,
			})
		}
	}

	out <- models.StreamEvent{Type: models.EventError, Error: ReasonToolLoopExhausted}
}

func (c *Client) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		if readErr != nil {
			return nil, fmt.Errorf("inference status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("inference status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}
	return resp, nil
}

// readStream consumes one NDJSON chat response, invoking onDelta for each
// content fragment and collecting tool calls deduplicated by call identity.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, onDelta func(string)) (string, []ToolCall, error) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var content strings.Builder
	var toolCalls []ToolCall
	seen := map[string]struct{}{}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return "", nil, ctx.Err()
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var resp chatResponse
		if err := json.Unmarshal([]byte(line), &resp); err != nil {
			return "", nil, fmt.Errorf("decode response: %w", err)
		}
		if resp.Error != "" {
			return "", nil, errors.New(resp.Error)
		}
		if resp.Message != nil {
			if resp.Message.Content != "" {
				content.WriteString(resp.Message.Content)
				onDelta(resp.Message.Content)
			}
			for _, tc := range resp.Message.ToolCalls {
				key := toolCallKey(tc)
				if key != "" {
					if _, ok := seen[key]; ok {
						continue
					}
					seen[key] = struct{}{}
				}
				toolCalls = append(toolCalls, tc)
			}
		}
		if resp.Done {
			return content.String(), toolCalls, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", nil, err
	}
	return content.String(), toolCalls, nil
}

func toolCallKey(tc ToolCall) string {
	if id := strings.TrimSpace(tc.ID); id != "" {
		return id
	}
	name := strings.TrimSpace(tc.Function.Name)
	args := strings.TrimSpace(string(tc.Function.Arguments))
	if name == "" && args == "" {
		return ""
	}
	return name + ":" + args
}
