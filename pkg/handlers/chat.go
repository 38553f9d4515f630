package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/assistant"
	"github.com/dataquill-ai/dataquill-engine/pkg/auth"
	"github.com/dataquill-ai/dataquill-engine/pkg/models"
	"github.com/dataquill-ai/dataquill-engine/pkg/pipeline"
	"github.com/dataquill-ai/dataquill-engine/pkg/progress"
	"github.com/dataquill-ai/dataquill-engine/pkg/statestore"
	"github.com/dataquill-ai/dataquill-engine/pkg/threads"
)

const (
	// progressQueueSize bounds the per-request step event queue.
	progressQueueSize = 64
	// finalDeliveryTimeout bounds the write of the terminal events when the
	// client is slow to drain.
	finalDeliveryTimeout = 2 * time.Second

	toolName = "nl2sql_query"
)

// ClarificationStore is the statestore surface the chat handler needs.
type ClarificationStore interface {
	statestore.ClarificationStore
	statestore.ContextStore
}

// ChatHandler serves the SSE chat stream.
type ChatHandler struct {
	coordinator *pipeline.Coordinator
	assistant   *assistant.Assistant
	store       ClarificationStore
	threads     *threads.Client
	logger      *zap.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(coordinator *pipeline.Coordinator, asst *assistant.Assistant, store ClarificationStore, threadClient *threads.Client, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{
		coordinator: coordinator,
		assistant:   asst,
		store:       store,
		threads:     threadClient,
		logger:      logger.Named("chat"),
	}
}

// RegisterRoutes registers the chat routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/chat/stream", authMiddleware.RequireAuth(h.Stream))
}

// Stream handles GET /api/chat/stream?message=<text>[&thread_id=<id>][&title=<text>]
// Step events are interleaved with assistant content; one tool_call event
// carries the data payload; the terminal event carries done and thread_id.
func (h *ChatHandler) Stream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_message", "message query parameter is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	threadID := h.resolveThread(r.Context(), r.URL.Query().Get("thread_id"), r.URL.Query().Get("title"))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	reporter := progress.NewQueueReporter(progressQueueSize, h.logger)
	defer func() {
		if n := reporter.Dropped(); n > 0 {
			h.logger.Warn("step events dropped under backpressure",
				zap.String("thread_id", threadID),
				zap.Uint64("count", n))
		}
	}()
	eventChan := make(chan models.ChatEvent, 16)

	// Run the turn in the background; the handler goroutine owns the writer.
	go func() {
		defer close(eventChan)
		h.runTurn(r.Context(), message, threadID, reporter, eventChan)
	}()

	stepCh := reporter.Events()
	rc := http.NewResponseController(w)

	for {
		select {
		case <-r.Context().Done():
			// Client disconnected; the request context cancels the pipeline.
			return

		case ev, open := <-stepCh:
			if !open {
				stepCh = nil
				continue
			}
			h.writeEvent(w, flusher, stepEvent(ev))

		case ev, open := <-eventChan:
			if !open {
				return
			}
			// Step events precede the final events within a request; drain
			// whatever is already queued before writing.
			stepCh = h.drainSteps(w, flusher, stepCh)

			if ev.Done || ev.Error != "" {
				if err := rc.SetWriteDeadline(time.Now().Add(finalDeliveryTimeout)); err != nil {
					h.logger.Debug("write deadline unsupported", zap.Error(err))
				}
			}
			h.writeEvent(w, flusher, ev)
			if ev.Done || ev.Error != "" {
				return
			}
		}
	}
}

// runTurn executes one chat turn and emits the content, tool_call, and
// terminal events. The reporter is closed here so the stream knows step
// events are complete.
func (h *ChatHandler) runTurn(ctx context.Context, message, threadID string, reporter *progress.QueueReporter, out chan<- models.ChatEvent) {
	defer reporter.Close()

	h.appendMessage(ctx, threadID, "user", message)

	pending := h.loadPending(ctx, threadID)
	cctx := h.loadContext(ctx, threadID)

	if pending == nil && h.assistant.ClassifyIntent(ctx, message, threadID) == assistant.IntentChat {
		h.chatTurn(ctx, message, threadID, out)
		return
	}

	req := h.assistant.BuildRequest(message, threadID, uuid.NewString(), pending, cctx)
	resp, clar, err := h.coordinator.ProcessQuery(ctx, req, reporter)

	switch {
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("pipeline failed", zap.String("thread_id", threadID), zap.Error(err))
		out <- models.NewErrorEvent("Something went wrong. Please try again.")

	case clar != nil:
		out <- models.NewContentEvent(clar.Question)
		out <- models.NewToolCallEvent(uuid.NewString(), toolName, clarificationPayload(clar))
		h.appendMessage(ctx, threadID, "assistant", clar.Question)
		out <- models.NewDoneEvent(threadID)

	default:
		h.assistant.UpdateContext(cctx, resp)
		h.saveContext(ctx, threadID, cctx)
		h.assistant.EnrichResponse(resp, cctx)

		content := h.assistant.RenderResponse(resp)
		out <- models.NewContentEvent(content)
		out <- models.NewToolCallEvent(uuid.NewString(), toolName, resp)
		h.appendMessage(ctx, threadID, "assistant", content)
		out <- models.NewDoneEvent(threadID)
	}
}

// chatTurn answers a general conversation turn without touching the pipeline.
func (h *ChatHandler) chatTurn(ctx context.Context, message, threadID string, out chan<- models.ChatEvent) {
	reply, err := h.assistant.Chat(ctx, message, threadID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		h.logger.Warn("chat turn failed", zap.Error(err))
		out <- models.NewErrorEvent("I had trouble answering that. Please try again.")
		return
	}
	out <- models.NewContentEvent(reply)
	h.appendMessage(ctx, threadID, "assistant", reply)
	out <- models.NewDoneEvent(threadID)
}

// drainSteps flushes any step events already queued, preserving the ordering
// guarantee that steps appear before the final events that follow them.
func (h *ChatHandler) drainSteps(w http.ResponseWriter, flusher http.Flusher, stepCh <-chan progress.Event) <-chan progress.Event {
	for stepCh != nil {
		select {
		case ev, open := <-stepCh:
			if !open {
				return nil
			}
			h.writeEvent(w, flusher, stepEvent(ev))
		default:
			return stepCh
		}
	}
	return nil
}

func (h *ChatHandler) writeEvent(w http.ResponseWriter, flusher http.Flusher, ev models.ChatEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to marshal event", zap.Error(err))
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// resolveThread returns the existing thread ID or creates a new thread.
func (h *ChatHandler) resolveThread(ctx context.Context, threadID, title string) string {
	if threadID != "" {
		return threadID
	}
	if h.threads.Enabled() {
		t, err := h.threads.Create(ctx, title)
		if err == nil {
			return t.ID
		}
		h.logger.Warn("thread creation failed, using local id", zap.Error(err))
	}
	return uuid.NewString()
}

func (h *ChatHandler) loadPending(ctx context.Context, threadID string) *models.PendingClarification {
	pending, err := h.store.Load(ctx, threadID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("failed to load pending clarification", zap.Error(err))
		}
		return nil
	}
	return pending
}

func (h *ChatHandler) loadContext(ctx context.Context, threadID string) *models.ConversationContext {
	cctx, err := h.store.LoadContext(ctx, threadID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			h.logger.Warn("failed to load conversation context", zap.Error(err))
		}
		return &models.ConversationContext{ThreadID: threadID}
	}
	return cctx
}

func (h *ChatHandler) saveContext(ctx context.Context, threadID string, cctx *models.ConversationContext) {
	if cctx == nil {
		return
	}
	if err := h.store.SaveContext(ctx, threadID, cctx); err != nil {
		h.logger.Warn("failed to save conversation context", zap.Error(err))
	}
}

func (h *ChatHandler) appendMessage(ctx context.Context, threadID, role, content string) {
	if !h.threads.Enabled() || content == "" {
		return
	}
	if err := h.threads.AppendMessage(ctx, threadID, role, content); err != nil {
		h.logger.Warn("failed to record message", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func stepEvent(ev progress.Event) models.ChatEvent {
	return models.ChatEvent{
		Seq:        ev.Seq,
		Step:       ev.Step,
		Status:     ev.Status,
		DurationMS: ev.DurationMS,
		IsParent:   ev.IsParent,
	}
}

// clarificationPayload shapes a clarification as the tool result so the
// frontend renders the alternatives as clickable pills.
func clarificationPayload(clar *models.ClarificationRequest) *models.NL2SQLResponse {
	suggestions := make([]models.SchemaSuggestion, 0, len(clar.Alternatives)+1)
	if clar.BestGuess != "" {
		suggestions = append(suggestions, models.SchemaSuggestion{Title: clar.BestGuess, Prompt: clar.BestGuess})
	}
	for _, alt := range clar.Alternatives {
		suggestions = append(suggestions, models.SchemaSuggestion{Title: alt, Prompt: alt})
	}

	return &models.NL2SQLResponse{
		Columns:           []string{},
		Rows:              []map[string]any{},
		QuerySummary:      clar.Question,
		QueryConfidence:   clar.Confidence,
		NeedsConfirmation: true,
		Suggestions:       suggestions,
	}
}
