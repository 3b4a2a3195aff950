package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coda/internal/provider"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

type foreignStatus int

func (f foreignStatus) Error() string   { return fmt.Sprintf("http %d", int(f)) }
func (f foreignStatus) StatusCode() int { return int(f) }

func httpErr(status int, header http.Header, body string) error {
	return provider.NewHTTPError("test", status, header, []byte(body))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"canceled", context.Canceled, ""},
		{"wrapped canceled", fmt.Errorf("stream: %w", context.Canceled), ""},
		{"429", httpErr(429, nil, ""), MsgRateLimited},
		{"502", httpErr(502, nil, ""), MsgOverloaded},
		{"503", httpErr(503, nil, ""), MsgOverloaded},
		{"504", httpErr(504, nil, ""), MsgOverloaded},
		{"529", httpErr(529, nil, ""), MsgOverloaded},
		{"500", httpErr(500, nil, ""), MsgServerError},
		{"foreign 503", foreignStatus(503), MsgOverloaded},
		{"400 plain", httpErr(400, nil, "bad request"), ""},
		{"401", httpErr(401, nil, ""), ""},
		{"typed rate limit without status", provider.NewProviderError(provider.ErrCodeRateLimited, "slow", "p"), MsgRateLimited},
		{"econnreset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, MsgNetwork},
		{"econnrefused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), MsgNetwork},
		{"epipe", syscall.EPIPE, MsgNetwork},
		{"unexpected eof", fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), MsgNetwork},
		{"net timeout", timeoutErr{}, MsgTimeout},
		{"stream state", &provider.StreamStateError{Err: provider.ErrParserState}, MsgInterrupted},
		{"overloaded text", errors.New("Overloaded, try later"), MsgOverloaded},
		{"socket hang up", errors.New("socket hang up"), MsgNetwork},
		{"terminated", errors.New("terminated"), MsgNetwork},
		{"rate limit text", errors.New("Rate limit reached for requests"), MsgRateLimited},
		{"body overloaded_error", httpErr(400, nil, `{"type":"error","error":{"type":"overloaded_error","message":"busy"}}`), MsgOverloaded},
		{"body resource exhausted", errors.New(`upstream said: {"error":{"code":"RESOURCE_EXHAUSTED","status":"x"}}`), MsgRateLimited},
		{"body api_error", errors.New(`{"error":{"type":"api_error"}}`), MsgServerError},
		{"body unrelated", errors.New(`{"error":{"type":"invalid_request_error"}}`), ""},
		{"fatal", errors.New("invalid api key"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Classify(tt.err)
			if tt.want == "" {
				assert.Nil(t, r)
				return
			}
			require.NotNil(t, r)
			assert.Equal(t, tt.want, r.Message)
		})
	}
}

func TestClassifyRetryAfter(t *testing.T) {
	r := Classify(httpErr(429, http.Header{"Retry-After": {"7"}}, ""))
	require.NotNil(t, r)
	assert.True(t, r.HasRetryAfter)
	assert.Equal(t, 7*time.Second, r.RetryAfter)

	r = Classify(httpErr(429, http.Header{"Retry-After-Ms": {"1500"}, "Retry-After": {"9"}}, ""))
	require.NotNil(t, r)
	assert.Equal(t, 1500*time.Millisecond, r.RetryAfter)

	date := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	r = Classify(httpErr(503, http.Header{"Retry-After": {date}}, ""))
	require.NotNil(t, r)
	assert.True(t, r.HasRetryAfter)
	assert.InDelta(t, float64(90*time.Second), float64(r.RetryAfter), float64(2*time.Second))

	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)
	r = Classify(httpErr(503, http.Header{"Retry-After": {past}}, ""))
	require.NotNil(t, r)
	assert.Equal(t, time.Duration(0), r.RetryAfter)

	pe := httpErr(429, nil, "").(*provider.ProviderError)
	pe.RetryAfter = 4
	r = Classify(pe)
	require.NotNil(t, r)
	assert.Equal(t, 4*time.Second, r.RetryAfter)

	r = Classify(httpErr(500, http.Header{"Retry-After": {"garbage"}}, ""))
	require.NotNil(t, r)
	assert.False(t, r.HasRetryAfter)
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, 2*time.Second, p.Delay(1, nil))
	assert.Equal(t, 4*time.Second, p.Delay(2, &Reason{Message: MsgServerError}))
	assert.Equal(t, 8*time.Second, p.Delay(3, nil))
	assert.Equal(t, 30*time.Second, p.Delay(10, nil))
	assert.Equal(t, 2*time.Second, p.Delay(0, nil))

	assert.Equal(t, 7*time.Second, p.Delay(1, &Reason{RetryAfter: 7 * time.Second, HasRetryAfter: true}))
	assert.Equal(t, 5*time.Minute, p.Delay(1, &Reason{RetryAfter: time.Hour, HasRetryAfter: true}))
	assert.Equal(t, time.Duration(0), p.Delay(3, &Reason{HasRetryAfter: true}))
}

func TestPolicyShouldRetry(t *testing.T) {
	p := Policy{MaxRetries: 2}
	r := &Reason{Message: MsgRateLimited}
	ctx := context.Background()

	assert.True(t, p.ShouldRetry(ctx, 1, r, false))
	assert.True(t, p.ShouldRetry(ctx, 2, r, false))
	assert.False(t, p.ShouldRetry(ctx, 3, r, false))
	assert.False(t, p.ShouldRetry(ctx, 1, nil, false))
	assert.False(t, p.ShouldRetry(ctx, 1, r, true))

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	assert.False(t, p.ShouldRetry(canceled, 1, r, false))
}

func TestSleep(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)

	assert.ErrorIs(t, Sleep(ctx, 0), context.Canceled)
}
