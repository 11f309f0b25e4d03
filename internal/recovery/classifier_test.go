package recovery

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageClassifier_Classify(t *testing.T) {
	c := NewMessageClassifier()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "connection refused",
			err:  errors.New("connection refused by remote host"),
			want: KindNetwork,
		},
		{
			name: "dns failure",
			err:  errors.New("dns lookup failed for parts.example.com"),
			want: KindNetwork,
		},
		{
			name: "chrome net error code",
			err:  errors.New("net::ERR_CONNECTION_RESET at https://parts.example.com"),
			want: KindNetwork,
		},
		{
			name: "winsock code",
			err:  errors.New("socket error 10060"),
			want: KindNetwork,
		},
		{
			name: "timeout wins over network terms",
			err:  errors.New("connection timeout while negotiating tls"),
			want: KindTimeout,
		},
		{
			name: "timed out",
			err:  errors.New("navigation timed out after 30000ms"),
			want: KindTimeout,
		},
		{
			name: "invalid session",
			err:  errors.New("invalid session: browser context was closed"),
			want: KindInvalidSession,
		},
		{
			name: "session id",
			err:  errors.New("unknown session id"),
			want: KindInvalidSession,
		},
		{
			name: "access denied",
			err:  errors.New("access denied"),
			want: KindBlocked,
		},
		{
			name: "http 403",
			err:  errors.New("server returned 403 Forbidden"),
			want: KindBlocked,
		},
		{
			name: "rate limit",
			err:  errors.New("rate limit exceeded, slow down"),
			want: KindRateLimit,
		},
		{
			name: "http 429",
			err:  errors.New("got 429 from upstream"),
			want: KindRateLimit,
		},
		{
			name: "captcha",
			err:  errors.New("page shows a CAPTCHA box"),
			want: KindCaptcha,
		},
		{
			name: "cloudflare marker",
			err:  errors.New("cf-ray header present, challenge suspected"),
			want: KindCloudflare,
		},
		{
			name: "just a moment page",
			err:  errors.New(`body contains "Just a moment..."`),
			want: KindCloudflare,
		},
		{
			name: "http 404",
			err:  errors.New("product page returned 404"),
			want: KindPageError,
		},
		{
			name: "element missing",
			err:  errors.New("no such element: table.fit-vehicle-list-table"),
			want: KindElementNotFound,
		},
		{
			name: "javascript failure",
			err:  errors.New("javascript evaluation failed"),
			want: KindJavascriptError,
		},
		{
			name: "out of memory",
			err:  errors.New("renderer out of memory"),
			want: KindMemoryError,
		},
		{
			name: "unmatched message",
			err:  errors.New("something odd happened"),
			want: KindUnknown,
		},
		{
			name: "nil error",
			err:  nil,
			want: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.err))
		})
	}
}

type fakeTimeoutError struct{}

func (fakeTimeoutError) Error() string { return "operation gave up" }

func TestMessageClassifier_TypeNameCounts(t *testing.T) {
	c := NewMessageClassifier()

	// The message alone matches nothing, but the concrete type name
	// carries "timeout".
	var err error = fakeTimeoutError{}
	assert.Equal(t, KindTimeout, c.Classify(err))
}

func TestMessageClassifier_WrappedErrors(t *testing.T) {
	c := NewMessageClassifier()

	err := fmt.Errorf("fetching product: %w", errors.New("too many requests"))
	assert.Equal(t, KindRateLimit, c.Classify(err))
}

func TestMessageClassifier_NeverProducesReservedKinds(t *testing.T) {
	c := NewMessageClassifier()

	// Reserved kinds only come from typed classifiers.
	for _, msg := range []string{"modal dialog appeared", "redirected to login", "interstitial shown"} {
		got := c.Classify(errors.New(msg))
		assert.NotEqual(t, KindModalInterruption, got)
		assert.NotEqual(t, KindRedirect, got)
	}
}
