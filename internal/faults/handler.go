package faults

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"clipforge/internal/logging"
	"clipforge/internal/notifications"
	"clipforge/internal/services"
	"clipforge/internal/store"
)

// Sink persists redacted error records.
type Sink interface {
	InsertErrorRecord(ctx context.Context, record *store.ErrorRecord) error
}

// CriticalHook is invoked for every critical error after it is recorded.
type CriticalHook func(ctx context.Context, err *Error)

// NotifyHook adapts a notification service into a CriticalHook.
func NotifyHook(svc notifications.Service, logger *slog.Logger) CriticalHook {
	if svc == nil {
		return nil
	}
	return func(ctx context.Context, err *Error) {
		payload := notifications.Payload{
			"type":     string(err.Type),
			"message":  err.Message,
			"error_id": err.ID,
		}
		if notifyErr := svc.Publish(ctx, notifications.EventCriticalError, payload); notifyErr != nil && logger != nil {
			logger.Warn("critical error notification failed",
				logging.Error(notifyErr),
				logging.String(logging.FieldEventType, "notification_failed"),
				logging.String(logging.FieldErrorHint, "check ntfy topic and network"),
				logging.String(logging.FieldImpact, "operators were not alerted"),
			)
		}
	}
}

// RequestInfo identifies the caller an error surfaced for.
type RequestInfo struct {
	UserID    string
	SessionID string
	RequestID string
	Method    string
	Path      string
	Headers   map[string]string
}

// Stats is a point-in-time snapshot of handler counters.
type Stats struct {
	Total      int64
	ByType     map[Type]int64
	BySeverity map[Severity]int64
	LastAt     time.Time
	Since      time.Time
}

// Options configures a Handler.
type Options struct {
	Logger         *slog.Logger
	Sink           Sink
	RecentCapacity int
	OnCritical     CriticalHook
}

const defaultRecentCapacity = 100

// Handler is the single sink for pipeline errors. It classifies, logs,
// persists, counts, and escalates.
type Handler struct {
	logger     *slog.Logger
	sink       Sink
	onCritical CriticalHook

	mu         sync.Mutex
	total      int64
	byType     map[Type]int64
	bySeverity map[Severity]int64
	lastAt     time.Time
	since      time.Time
	recent     []*Error
	next       int
	filled     bool
}

// NewHandler constructs a Handler. A nil sink skips persistence and a nil
// hook disables escalation.
func NewHandler(opts Options) *Handler {
	capacity := opts.RecentCapacity
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &Handler{
		logger:     logging.NewComponentLogger(opts.Logger, "errors"),
		sink:       opts.Sink,
		onCritical: opts.OnCritical,
		byType:     make(map[Type]int64),
		bySeverity: make(map[Severity]int64),
		since:      time.Now().UTC(),
		recent:     make([]*Error, capacity),
	}
}

// Handle records err and returns its classified form so callers can surface
// the user message and id. Handle never fails; persistence problems are logged.
func (h *Handler) Handle(ctx context.Context, err error, req RequestInfo) *Error {
	if err == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	classified := Normalize(err)
	fillRequest(ctx, classified, &req)

	h.log(ctx, classified)
	h.persist(ctx, classified, req)
	h.record(classified)

	if classified.Severity == SeverityCritical && h.onCritical != nil {
		h.onCritical(ctx, classified)
	}
	return classified
}

func fillRequest(ctx context.Context, e *Error, req *RequestInfo) {
	if req.UserID == "" {
		if id, ok := services.UserIDFromContext(ctx); ok {
			req.UserID = id
		}
	}
	if req.SessionID == "" {
		if id, ok := services.SessionIDFromContext(ctx); ok {
			req.SessionID = id
		}
	}
	if req.RequestID == "" {
		if id, ok := services.RequestIDFromContext(ctx); ok {
			req.RequestID = id
		}
	}
	if e.Context.JobID == "" {
		if id, ok := services.JobIDFromContext(ctx); ok {
			e.Context.JobID = id
		}
	}
	if e.Context.UserID == "" {
		e.Context.UserID = req.UserID
	}
	if e.Context.Method == "" {
		e.Context.Method = req.Method
	}
	if e.Context.Path == "" {
		e.Context.Path = req.Path
	}
	if len(req.Headers) > 0 {
		if e.Context.Headers == nil {
			e.Context.Headers = make(map[string]string, len(req.Headers))
		}
		for key, value := range req.Headers {
			e.Context.Headers[key] = value
		}
	}
}

// LevelFor maps severity to a log level.
func LevelFor(severity Severity) slog.Level {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return slog.LevelError
	case SeverityMedium:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

func (h *Handler) log(ctx context.Context, e *Error) {
	logger := logging.WithContext(ctx, h.logger)
	attrs := []logging.Attr{
		logging.String("error_id", e.ID),
		logging.String("error_type", string(e.Type)),
		logging.String("severity", string(e.Severity)),
		logging.String("error_message", e.Error()),
		logging.Bool("retryable", e.Retryable),
		logging.String(logging.FieldEventType, "error_handled"),
	}
	if e.Code != "" {
		attrs = append(attrs, logging.String("code", e.Code))
	}
	if e.Context.Component != "" {
		attrs = append(attrs, logging.String("source_component", e.Context.Component))
	}
	if e.Context.Operation != "" {
		attrs = append(attrs, logging.String("operation", e.Context.Operation))
	}
	if e.Context.JobID != "" && !hasJobContext(ctx) {
		attrs = append(attrs, logging.String(logging.FieldJobID, e.Context.JobID))
	}
	level := LevelFor(e.Severity)
	if level >= slog.LevelWarn {
		hint := "inspect error record " + e.ID
		if e.Retryable {
			hint = "retry the operation; " + hint
		}
		attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	}
	logger.LogAttrs(ctx, level, "error handled", attrs...)
}

func hasJobContext(ctx context.Context) bool {
	_, ok := services.JobIDFromContext(ctx)
	return ok
}

func (h *Handler) persist(ctx context.Context, e *Error, req RequestInfo) {
	if h.sink == nil {
		return
	}
	record := &store.ErrorRecord{
		ID:          e.ID,
		Type:        string(e.Type),
		Severity:    string(e.Severity),
		Code:        e.Code,
		HTTPStatus:  e.HTTPStatus,
		Message:     e.Error(),
		UserMessage: e.UserMessage,
		Stack:       e.Stack,
		ContextJSON: encodeContext(e.Context),
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		RequestID:   req.RequestID,
		Recoverable: e.Recoverable,
		Retryable:   e.Retryable,
		CreatedAt:   e.Timestamp,
	}
	if err := h.sink.InsertErrorRecord(context.WithoutCancel(ctx), record); err != nil {
		logging.WarnWithContext(h.logger, "error record not persisted", "error_persist_failed",
			logging.String("error_id", e.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check database health"),
			logging.String(logging.FieldImpact, "error is only available in logs"),
		)
	}
}

func (h *Handler) record(e *Error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.total++
	h.byType[e.Type]++
	h.bySeverity[e.Severity]++
	h.lastAt = e.Timestamp
	h.recent[h.next] = e
	h.next = (h.next + 1) % len(h.recent)
	if h.next == 0 {
		h.filled = true
	}
}

// Recent returns up to limit handled errors, newest first. A limit <= 0
// returns everything retained.
func (h *Handler) Recent(limit int) []*Error {
	h.mu.Lock()
	defer h.mu.Unlock()
	size := h.next
	if h.filled {
		size = len(h.recent)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]*Error, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.next - 1 - i + len(h.recent)) % len(h.recent)
		out = append(out, h.recent[idx])
	}
	return out
}

// Stats returns a copy of the handler counters.
func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	stats := Stats{
		Total:      h.total,
		ByType:     make(map[Type]int64, len(h.byType)),
		BySeverity: make(map[Severity]int64, len(h.bySeverity)),
		LastAt:     h.lastAt,
		Since:      h.since,
	}
	for k, v := range h.byType {
		stats.ByType[k] = v
	}
	for k, v := range h.bySeverity {
		stats.BySeverity[k] = v
	}
	return stats
}
