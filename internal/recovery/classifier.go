package recovery

import (
	"fmt"
	"strings"
)

// ErrorKind is the failure vocabulary shared by the classifier, the
// recovery policy and the circuit breaker.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindTimeout           ErrorKind = "timeout"
	KindBlocked           ErrorKind = "blocked"
	KindInvalidSession    ErrorKind = "invalid_session"
	KindPageError         ErrorKind = "page_error"
	KindElementNotFound   ErrorKind = "element_not_found"
	KindModalInterruption ErrorKind = "modal_interruption"
	KindRateLimit         ErrorKind = "rate_limit"
	KindCaptcha           ErrorKind = "captcha"
	KindCloudflare        ErrorKind = "cloudflare"
	KindRedirect          ErrorKind = "redirect"
	KindJavascriptError   ErrorKind = "javascript_error"
	KindMemoryError       ErrorKind = "memory_error"
	KindUnknown           ErrorKind = "unknown"
)

func (k ErrorKind) String() string { return string(k) }

// Classifier maps a failure to an ErrorKind. The default implementation
// matches substrings of the error message; a driver-specific implementation
// can replace it without touching the retry loop.
type Classifier interface {
	Classify(err error) ErrorKind
}

// The matching tables below are tuned against real failure messages from
// browser drivers and parts storefronts. Order matters: the first matching
// table wins, and timeout terms beat generic network terms.
var (
	networkTerms    = []string{"connection", "network", "dns", "err_", "10060", "timeout", "timed out"}
	timeoutTerms    = []string{"timeout", "timed out"}
	sessionTerms    = []string{"invalid session", "session id"}
	blockedTerms    = []string{"blocked", "access denied", "403", "forbidden"}
	rateLimitTerms  = []string{"rate limit", "too many requests", "429"}
	cloudflareTerms = []string{"cloudflare", "cf-ray", "checking your browser", "just a moment", "ddos protection"}
	pageErrorTerms  = []string{"404", "not found", "page error"}
	elementTerms    = []string{"no such element", "element not found", "element not visible"}
	javascriptTerms = []string{"javascript", "js error"}
	memoryTerms     = []string{"memory", "out of memory"}
)

// MessageClassifier classifies by scanning the lower-cased error message and
// concrete type name. It never returns KindModalInterruption or
// KindRedirect; those are reserved for classifiers with typed inputs.
type MessageClassifier struct{}

func NewMessageClassifier() *MessageClassifier {
	return &MessageClassifier{}
}

func (c *MessageClassifier) Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	msg := strings.ToLower(err.Error() + " " + fmt.Sprintf("%T", err))

	if containsAny(msg, networkTerms) {
		if containsAny(msg, timeoutTerms) {
			return KindTimeout
		}
		return KindNetwork
	}

	if containsAny(msg, sessionTerms) {
		return KindInvalidSession
	}

	if containsAny(msg, blockedTerms) {
		return KindBlocked
	}

	if containsAny(msg, rateLimitTerms) {
		return KindRateLimit
	}

	if strings.Contains(msg, "captcha") {
		return KindCaptcha
	}

	if containsAny(msg, cloudflareTerms) {
		return KindCloudflare
	}

	if containsAny(msg, pageErrorTerms) {
		return KindPageError
	}

	if containsAny(msg, elementTerms) {
		return KindElementNotFound
	}

	if containsAny(msg, javascriptTerms) {
		return KindJavascriptError
	}

	if containsAny(msg, memoryTerms) {
		return KindMemoryError
	}

	return KindUnknown
}

func containsAny(s string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(s, term) {
			return true
		}
	}
	return false
}
