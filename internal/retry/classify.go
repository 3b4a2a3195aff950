// Package retry classifies provider failures and computes backoff.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"coda/internal/provider"
)

// Reason describes why a failure is worth retrying.
type Reason struct {
	Message string

	// RetryAfter is the provider's hint, valid when HasRetryAfter is set.
	RetryAfter    time.Duration
	HasRetryAfter bool
}

// Reason messages.
const (
	MsgRateLimited = "rate limited"
	MsgOverloaded  = "provider overloaded"
	MsgServerError = "server error"
	MsgNetwork     = "network error"
	MsgTimeout     = "request timed out"
	MsgInterrupted = "stream interrupted"
)

var transientErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
	syscall.ETIMEDOUT,
	syscall.EPIPE,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
}

// statusCoder is implemented by foreign HTTP error types.
type statusCoder interface {
	StatusCode() int
}

// Classify returns a Reason for retryable failures and nil for fatal ones.
// Cancellation is never retryable.
func Classify(err error) *Reason {
	if err == nil || errors.Is(err, context.Canceled) {
		return nil
	}

	var pe *provider.ProviderError
	hasPE := errors.As(err, &pe)

	status := 0
	if hasPE {
		status = pe.StatusCode
	} else {
		var sc statusCoder
		if errors.As(err, &sc) {
			status = sc.StatusCode()
		}
	}

	if msg := classifyStatus(status); msg != "" {
		r := &Reason{Message: msg}
		if hasPE {
			r.RetryAfter, r.HasRetryAfter = retryAfter(pe)
		}
		return r
	}

	if hasPE && status == 0 {
		if msg := classifyCode(pe.Code); msg != "" {
			r := &Reason{Message: msg}
			r.RetryAfter, r.HasRetryAfter = retryAfter(pe)
			return r
		}
	}

	if msg := classifyNetwork(err); msg != "" {
		return &Reason{Message: msg}
	}

	var sse *provider.StreamStateError
	if errors.As(err, &sse) {
		return &Reason{Message: MsgInterrupted}
	}

	if msg := classifyMessage(err.Error()); msg != "" {
		return &Reason{Message: msg}
	}

	var body []byte
	if hasPE && len(pe.Body) > 0 {
		body = pe.Body
	} else {
		body = []byte(err.Error())
	}
	if msg := classifyBody(body); msg != "" {
		return &Reason{Message: msg}
	}
	return nil
}

func classifyStatus(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return MsgRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout, status == 529:
		return MsgOverloaded
	case status >= 500:
		return MsgServerError
	}
	return ""
}

// classifyCode maps typed provider errors that carry no HTTP status.
func classifyCode(code provider.ErrorCode) string {
	switch code {
	case provider.ErrCodeRateLimited:
		return MsgRateLimited
	case provider.ErrCodeServiceUnavailable:
		return MsgOverloaded
	case provider.ErrCodeNetworkError:
		return MsgNetwork
	case provider.ErrCodeTimeout:
		return MsgTimeout
	}
	return ""
}

func classifyNetwork(err error) string {
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return MsgNetwork
		}
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return MsgNetwork
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return MsgTimeout
	}
	return ""
}

func classifyMessage(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "overloaded"):
		return MsgOverloaded
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many requests"):
		return MsgRateLimited
	case strings.Contains(m, "socket hang up"), strings.Contains(m, "terminated"),
		strings.Contains(m, "econnreset"), strings.Contains(m, "connection reset"):
		return MsgNetwork
	}
	return ""
}

// classifyBody looks for a structured error such as
// {"error":{"type":"overloaded_error"}} or {"error":{"code":"RESOURCE_EXHAUSTED"}}.
func classifyBody(body []byte) string {
	start := strings.IndexByte(string(body), '{')
	if start < 0 {
		return ""
	}
	var doc map[string]any
	if err := json.Unmarshal(body[start:], &doc); err != nil {
		return ""
	}
	for _, v := range structuredCodes(doc) {
		switch strings.ToLower(v) {
		case "overloaded_error", "overloaded", "unavailable", "service_unavailable":
			return MsgOverloaded
		case "rate_limit_error", "rate_limit_exceeded", "rate_limited", "resource_exhausted", "too_many_requests":
			return MsgRateLimited
		case "server_error", "api_error", "internal", "internal_error", "internal_server_error":
			return MsgServerError
		}
	}
	return ""
}

// structuredCodes collects type/code/status strings from the document and
// its nested "error" object.
func structuredCodes(doc map[string]any) []string {
	var out []string
	collect := func(m map[string]any) {
		for _, k := range []string{"type", "code", "status"} {
			if s, ok := m[k].(string); ok && s != "" {
				out = append(out, s)
			}
		}
	}
	if inner, ok := doc["error"].(map[string]any); ok {
		collect(inner)
	}
	collect(doc)
	return out
}

// retryAfter reads the provider's hint: retry-after-ms, then retry-after
// (seconds or HTTP date), then the error's own field.
func retryAfter(pe *provider.ProviderError) (time.Duration, bool) {
	if pe.Header != nil {
		if v := pe.Header.Get("Retry-After-Ms"); v != "" {
			if ms, err := strconv.ParseFloat(v, 64); err == nil && ms >= 0 {
				return time.Duration(ms * float64(time.Millisecond)), true
			}
		}
		if v := pe.Header.Get("Retry-After"); v != "" {
			if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
			if t, err := http.ParseTime(v); err == nil {
				d := time.Until(t)
				if d < 0 {
					d = 0
				}
				return d, true
			}
		}
	}
	if pe.RetryAfter > 0 {
		return time.Duration(pe.RetryAfter) * time.Second, true
	}
	return 0, false
}
