package faults

import (
	"encoding/json"
	"strings"
)

// Redacted replaces sensitive values before persistence.
const Redacted = "[REDACTED]"

var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
}

var sensitiveFieldHints = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "credential"}

func isSensitiveField(key string) bool {
	lower := strings.ToLower(key)
	for _, hint := range sensitiveFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// Redact returns a copy of ctx with credentials masked.
func Redact(ctx Context) Context {
	out := ctx
	if len(ctx.Headers) > 0 {
		out.Headers = make(map[string]string, len(ctx.Headers))
		for key, value := range ctx.Headers {
			if _, ok := sensitiveHeaders[strings.ToLower(key)]; ok || isSensitiveField(key) {
				value = Redacted
			}
			out.Headers[key] = value
		}
	}
	if len(ctx.Fields) > 0 {
		out.Fields = make(map[string]string, len(ctx.Fields))
		for key, value := range ctx.Fields {
			if isSensitiveField(key) {
				value = Redacted
			}
			out.Fields[key] = value
		}
	}
	return out
}

func encodeContext(ctx Context) string {
	data, err := json.Marshal(Redact(ctx))
	if err != nil {
		return ""
	}
	if string(data) == "{}" {
		return ""
	}
	return string(data)
}
