package faults

import (
	"context"
	"errors"
	"io/fs"
	"strings"

	"clipforge/internal/services"
	"clipforge/internal/store"
)

type keywordGroup struct {
	typ      Type
	keywords []string
}

// keywordGroups is scanned in order; the first group with a match wins.
var keywordGroups = []keywordGroup{
	{TypeValidation, []string{"validation", "invalid", "required", "must be", "malformed", "out of range"}},
	{TypeAuthentication, []string{"authentication", "unauthenticated", "not authenticated", "credentials", "token expired", "login"}},
	{TypeAuthorization, []string{"authorization", "unauthorized", "forbidden", "not allowed", "access denied", "insufficient permissions"}},
	{TypeDatastore, []string{"database", "datastore", "sqlite", "sql:", "constraint failed", "deadlock"}},
	{TypeNetwork, []string{"network", "connection refused", "connection reset", "no such host", "timeout", "timed out", "unreachable", "dial tcp"}},
	{TypeFilesystem, []string{"no such file", "file", "directory", "permission denied", "disk full", "no space left", "read-only file system"}},
	{TypeCloudStorage, []string{"bucket", "s3", "cloud storage", "object storage", "blob"}},
	{TypeEmail, []string{"email", "smtp", "mailbox"}},
	{TypeCreditSystem, []string{"credit", "insufficient balance"}},
	{TypeMediaProcessing, []string{"ffmpeg", "ffprobe", "transcod", "codec", "video", "segment", "thumbnail", "media"}},
}

// Classify maps err to a taxonomy type. Classified errors keep their type.
// Known sentinel markers are honored next, then the message is scanned by
// keyword group; anything unmatched is internal.
func Classify(err error) Type {
	if err == nil {
		return TypeInternal
	}
	if classified, ok := As(err); ok {
		return classified.Type
	}
	if typ, ok := classifyMarker(err); ok {
		return typ
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage scans message for keyword groups in priority order.
func ClassifyMessage(message string) Type {
	lower := strings.ToLower(message)
	for _, group := range keywordGroups {
		for _, keyword := range group.keywords {
			if strings.Contains(lower, keyword) {
				return group.typ
			}
		}
	}
	return TypeInternal
}

func classifyMarker(err error) (Type, bool) {
	switch {
	case errors.Is(err, services.ErrInsufficientCredits), errors.Is(err, store.ErrInsufficientFunds):
		return TypeCreditSystem, true
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrConflict),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrConflict):
		return TypeValidation, true
	case errors.Is(err, services.ErrDatastore):
		return TypeDatastore, true
	case errors.Is(err, services.ErrExternalTool):
		return TypeMediaProcessing, true
	case errors.Is(err, services.ErrFilesystem), errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return TypeFilesystem, true
	case errors.Is(err, services.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TypeNetwork, true
	case errors.Is(err, services.ErrConfiguration):
		return TypeInternal, true
	}
	return "", false
}

func statusForMarker(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return 404
	case errors.Is(err, services.ErrConflict), errors.Is(err, store.ErrConflict):
		return 409
	}
	return 0
}

// InferSeverity derives a severity from the explicit HTTP status and type.
func InferSeverity(typ Type, httpStatus int) Severity {
	switch {
	case httpStatus >= 500 || typ == TypeDatastore:
		return SeverityCritical
	case httpStatus >= 400 || typ == TypeAuthentication || typ == TypeAuthorization || typ == TypePayment:
		return SeverityHigh
	case typ == TypeValidation || typ == TypeFilesystem || typ == TypeCloudStorage:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Normalize returns err as a classified *Error, classifying untyped errors
// and filling severity when absent. The returned value may be err itself.
func Normalize(err error) *Error {
	if err == nil {
		return nil
	}
	classified, ok := As(err)
	if !ok {
		opts := []Option{}
		if status := statusForMarker(err); status > 0 {
			opts = append(opts, WithHTTPStatus(status))
		}
		if services.Retryable(err) {
			opts = append(opts, WithRetryable(true))
		}
		classified = Wrap(Classify(err), err, "", opts...)
	}
	if classified.Severity == "" || classified.Severity.Rank() == 0 {
		classified.Severity = InferSeverity(classified.Type, classified.HTTPStatus)
	}
	return classified
}
