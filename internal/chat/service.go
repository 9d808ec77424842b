// Package chat implements the conversation orchestrator: session lifecycle,
// message persistence, and the tool-grounded streaming exchange with the
// model.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/robin-sci/health-assistant/internal/llm"
	"github.com/robin-sci/health-assistant/internal/metrics"
	"github.com/robin-sci/health-assistant/internal/storage"
	"github.com/robin-sci/health-assistant/internal/tools"
	"github.com/robin-sci/health-assistant/pkg/models"
)

// titleMaxLen bounds the auto-generated session title.
const titleMaxLen = 50

// Gateway is the slice of the inference client the orchestrator drives.
type Gateway interface {
	ChatWithTools(ctx context.Context, model string, msgs []llm.Message, exec llm.ToolExecutor) <-chan models.StreamEvent
}

// Config configures the orchestrator.
type Config struct {
	// Model is the chat model name sent to the inference server.
	Model string
}

// Service owns chat sessions and drives message streams.
type Service struct {
	store    *storage.Store
	gateway  Gateway
	registry *tools.Registry
	model    string
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates the orchestrator. metrics may be nil.
func NewService(store *storage.Store, gateway Gateway, registry *tools.Registry, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		registry: registry,
		model:    cfg.Model,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateSession starts a new conversation for the user.
func (s *Service) CreateSession(ctx context.Context, userID, title string) (*models.ChatSession, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("user_id is required")
	}
	now := s.now()
	session := &models.ChatSession{
		ID:             uuid.NewString(),
		UserID:         userID,
		Title:          strings.TrimSpace(title),
		CreatedAt:      now,
		LastActivityAt: now,
	}
	if err := s.store.Sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession returns one session.
func (s *Service) GetSession(ctx context.Context, id string) (*models.ChatSession, error) {
	return s.store.Sessions.GetSession(ctx, id)
}

// ListSessions returns the user's sessions, most recently active first.
func (s *Service) ListSessions(ctx context.Context, userID string, limit int) ([]*models.ChatSession, error) {
	return s.store.Sessions.ListSessions(ctx, userID, limit)
}

// DeleteSession removes the session and all its messages.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	return s.store.Sessions.DeleteSession(ctx, id)
}

// Messages returns the session transcript in order.
func (s *Service) Messages(ctx context.Context, sessionID string, limit int) ([]*models.ChatMessage, error) {
	if _, err := s.store.Sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.Sessions.Messages(ctx, sessionID, limit)
}

// SendMessage persists the user turn and streams the assistant's reply. The
// returned channel carries content deltas, tool activity, and exactly one
// terminal event (done or error), then closes. The assistant turn is
// persisted only when the stream reaches done.
//
// Only one stream may be active per session; a concurrent send fails with
// storage.ErrStreamActive before anything is written.
func (s *Service) SendMessage(ctx context.Context, sessionID, content string) (<-chan models.StreamEvent, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is required")
	}
	session, err := s.store.Sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.store.Streams.Acquire(ctx, sessionID); err != nil {
		return nil, err
	}

	userMsg := &models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.store.Sessions.AppendMessage(ctx, sessionID, userMsg); err != nil {
		s.store.Streams.Release(context.Background(), sessionID)
		return nil, err
	}

	transcript, err := s.buildTranscript(ctx, sessionID)
	if err != nil {
		s.store.Streams.Release(context.Background(), sessionID)
		return nil, err
	}

	out := make(chan models.StreamEvent, 16)
	go s.runStream(ctx, session, content, transcript, out)
	return out, nil
}

func (s *Service) runStream(ctx context.Context, session *models.ChatSession, userContent string, transcript []llm.Message, out chan<- models.StreamEvent) {
	defer close(out)
	defer s.store.Streams.Release(context.Background(), session.ID)

	exec := &userExecutor{
		registry: s.registry,
		userID:   session.UserID,
		metrics:  s.metrics,
	}

	var buf strings.Builder
	var records []models.ToolCallRecord
	outcome := "error"

	for event := range s.gateway.ChatWithTools(ctx, s.model, transcript, exec) {
		switch event.Type {
		case models.EventContent:
			buf.WriteString(event.Content)
		case models.EventToolCall:
			records = append(records, models.ToolCallRecord{
				Name:      event.Name,
				Arguments: event.Arguments,
			})
		case models.EventToolResult:
			// Attach to the most recent unresolved call for this tool.
			for i := len(records) - 1; i >= 0; i-- {
				if records[i].Name == event.Name && records[i].Result == "" {
					records[i].Result = event.Result
					break
				}
			}
		case models.EventDone:
			outcome = "done"
		case models.EventError:
			s.logger.Warn("chat stream failed",
				"session_id", session.ID,
				"error", event.Error)
		}
		out <- event
	}

	// A stream that reached done is persisted even if the client has gone
	// away by now; a disconnect mid-stream surfaces as a gateway error
	// instead, and persists nothing.
	if outcome == "done" {
		s.finishStream(session, userContent, buf.String(), records)
	}
	s.metrics.ObserveChatStream(outcome)
}

// finishStream persists the assistant turn and auto-titles the session on its
// first exchange. Runs off the request context so a client disconnect after
// done does not lose the reply.
func (s *Service) finishStream(session *models.ChatSession, userContent, assistantContent string, records []models.ToolCallRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if strings.TrimSpace(assistantContent) != "" || len(records) > 0 {
		msg := &models.ChatMessage{
			ID:        uuid.NewString(),
			SessionID: session.ID,
			Role:      models.RoleAssistant,
			Content:   assistantContent,
			CreatedAt: s.now(),
		}
		if len(records) > 0 {
			msg.Metadata = &models.MessageMetadata{ToolCalls: records}
		}
		if err := s.store.Sessions.AppendMessage(ctx, session.ID, msg); err != nil {
			s.logger.Error("persist assistant message",
				"session_id", session.ID,
				"error", err)
			return
		}
	}

	if session.Title == "" {
		if err := s.store.Sessions.SetTitle(ctx, session.ID, autoTitle(userContent)); err != nil {
			s.logger.Warn("set session title",
				"session_id", session.ID,
				"error", err)
		}
	}
}

// buildTranscript assembles the model-visible conversation: the dated system
// prompt followed by the stored turns. Assistant turns that recorded tool
// calls are expanded back into assistant-with-tool-calls plus tool-role turns
// so the model sees the context it produced earlier.
func (s *Service) buildTranscript(ctx context.Context, sessionID string) ([]llm.Message, error) {
	history, err := s.store.Sessions.Messages(ctx, sessionID, 0)
	if err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(history)+1)
	msgs = append(msgs, llm.Message{
		Role:    string(models.RoleSystem),
		Content: systemPrompt(s.now().UTC().Format("2006-01-02")),
	})
	for _, m := range history {
		if m.Role == models.RoleAssistant && m.Metadata != nil && len(m.Metadata.ToolCalls) > 0 {
			assistant := llm.Message{
				Role:    string(models.RoleAssistant),
				Content: m.Content,
			}
			toolTurns := make([]llm.Message, 0, len(m.Metadata.ToolCalls))
			for _, tc := range m.Metadata.ToolCalls {
				args := tc.Arguments
				if len(args) == 0 {
					args = json.RawMessage(`{}`)
				}
				assistant.ToolCalls = append(assistant.ToolCalls, llm.ToolCall{
					Type:     "function",
					Function: llm.ToolFunction{Name: tc.Name, Arguments: args},
				})
				toolTurns = append(toolTurns, llm.Message{
					Role:     string(models.RoleTool),
					Content:  tc.Result,
					ToolName: tc.Name,
				})
			}
			msgs = append(msgs, assistant)
			msgs = append(msgs, toolTurns...)
			continue
		}
		msgs = append(msgs, llm.Message{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return msgs, nil
}

func autoTitle(content string) string {
	title := strings.TrimSpace(content)
	if len(title) > titleMaxLen {
		title = strings.TrimSpace(title[:titleMaxLen]) + "..."
	}
	return title
}

// userExecutor binds tool dispatch to the acting user.
type userExecutor struct {
	registry *tools.Registry
	userID   string
	metrics  *metrics.Metrics
}

func (e *userExecutor) Definitions() []openai.Tool {
	return e.registry.Definitions()
}

func (e *userExecutor) Dispatch(ctx context.Context, name string, args json.RawMessage) string {
	result := e.registry.Dispatch(tools.WithUser(ctx, e.userID), name, args)
	outcome := "ok"
	var probe struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(result), &probe); err == nil && probe.Error != "" {
		outcome = probe.Error
	}
	e.metrics.ObserveToolExecution(name, outcome)
	return result
}
