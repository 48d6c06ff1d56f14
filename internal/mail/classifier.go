// Package mail contains the pure decision logic of the delivery queue: the
// failure classifier, the backoff calculator, the named retry policies, and
// the retry decision engine. Nothing in this package touches the database or
// the network; every function is deterministic given its inputs, which keeps
// the retry semantics independently testable.
package mail

import (
	"regexp"
	"strings"

	"chesshelper/internal/types"
)

// providerCodeKinds is the exact provider error-code lookup table, consulted
// first. Codes cover the SendGrid event vocabulary plus the common SMTP
// enhanced status codes providers echo back in their error payloads.
var providerCodeKinds = map[string]types.FailureKind{
	"invalid_email":         types.FailureInvalidEmail,
	"invalid_recipient":     types.FailureInvalidEmail,
	"bounce":                types.FailureBouncedHard,
	"hard_bounce":           types.FailureBouncedHard,
	"blocked":               types.FailureBouncedHard,
	"soft_bounce":           types.FailureBouncedSoft,
	"mailbox_full":          types.FailureQuotaExceeded,
	"spam_report":           types.FailureSpamComplaint,
	"complaint":             types.FailureSpamComplaint,
	"rate_limit_exceeded":   types.FailureRateLimit,
	"too_many_requests":     types.FailureRateLimit,
	"quota_exceeded":        types.FailureQuotaExceeded,
	"credit_limit_exceeded": types.FailureQuotaExceeded,
	"unauthorized":          types.FailureAuthFailure,
	"invalid_api_key":       types.FailureAuthFailure,
	"forbidden":             types.FailureAuthFailure,
	"service_unavailable":   types.FailureServiceUnavailable,
	"timeout":               types.FailureNetworkError,

	// SMTP enhanced status codes.
	"5.1.1": types.FailureBouncedHard,
	"5.1.2": types.FailureInvalidEmail,
	"5.2.1": types.FailureBouncedHard,
	"5.2.2": types.FailureQuotaExceeded,
	"5.7.1": types.FailureSpamComplaint,
	"4.2.2": types.FailureBouncedSoft,
	"4.4.1": types.FailureNetworkError,
	"4.7.0": types.FailureTemporary,
}

// messagePatterns is the free-text fallback, matched in order against the
// lowercased message. First match wins.
var messagePatterns = []struct {
	re   *regexp.Regexp
	kind types.FailureKind
}{
	{regexp.MustCompile(`invalid (email|address|recipient)|malformed address|bad recipient syntax`), types.FailureInvalidEmail},
	{regexp.MustCompile(`user unknown|no such user|recipient .*not exist|unknown recipient|address rejected`), types.FailureBouncedHard},
	{regexp.MustCompile(`mailbox (is )?full|over quota|quota exceeded|storage limit`), types.FailureQuotaExceeded},
	{regexp.MustCompile(`spam|abuse complaint|listed on .*blocklist|blacklist`), types.FailureSpamComplaint},
	{regexp.MustCompile(`rate limit|too many (requests|messages)|throttl`), types.FailureRateLimit},
	{regexp.MustCompile(`unauthori[sz]ed|authentication failed|invalid api key|api key does not`), types.FailureAuthFailure},
	{regexp.MustCompile(`timed? ?out|connection (refused|reset|closed)|no route to host|dns (error|failure)|dial tcp`), types.FailureNetworkError},
	{regexp.MustCompile(`service unavailable|temporarily unavailable|maintenance`), types.FailureServiceUnavailable},
	{regexp.MustCompile(`greylist|deferred|try again later|temporar`), types.FailureTemporary},
}

// Classify maps a raw transport outcome to a FailureKind. Pure function,
// deterministic for identical input.
//
// Resolution order:
//  1. exact provider error-code lookup,
//  2. numeric status-code ranges (429 rate-limited, other 4xx mostly
//     non-retryable, 5xx temporary),
//  3. regex match against the free-text message,
//  4. network_error for status 0 (no HTTP response at all), else unknown.
//
// Unknown is treated downstream as retryable-with-caution.
func Classify(res types.TransportResult) types.FailureKind {
	if res.ProviderCode != "" {
		code := strings.ToLower(strings.TrimSpace(res.ProviderCode))
		if kind, ok := providerCodeKinds[code]; ok {
			return kind
		}
	}

	if kind, ok := classifyStatus(res.StatusCode); ok {
		return kind
	}

	if res.Message != "" {
		msg := strings.ToLower(res.Message)
		for _, p := range messagePatterns {
			if p.re.MatchString(msg) {
				return p.kind
			}
		}
	}

	if res.StatusCode == 0 {
		// The request never produced a response: connection-level failure.
		return types.FailureNetworkError
	}

	return types.FailureUnknown
}

// classifyStatus maps an HTTP-like status code to a FailureKind. Status 0
// (network-level) and unrecognized codes fall through to the message
// patterns, so the free text gets a chance to sharpen the classification.
func classifyStatus(status int) (types.FailureKind, bool) {
	switch {
	case status == 0:
		return "", false
	case status == 400 || status == 422:
		return types.FailureInvalidEmail, true
	case status == 401 || status == 403:
		return types.FailureAuthFailure, true
	case status == 413:
		return types.FailureQuotaExceeded, true
	case status == 429:
		return types.FailureRateLimit, true
	case status >= 400 && status < 500:
		return types.FailurePermanent, true
	case status == 503:
		return types.FailureServiceUnavailable, true
	case status >= 500 && status < 600:
		return types.FailureTemporary, true
	default:
		return "", false
	}
}

// SuppressionReasonFor maps a failure kind to the suppression reason it
// implies, for kinds that indicate recipient-side permanence. Returns
// ok=false for kinds that never warrant suppression on their own.
func SuppressionReasonFor(kind types.FailureKind) (types.SuppressionReason, bool) {
	switch kind {
	case types.FailureBouncedHard:
		return types.SuppressionHardBounce, true
	case types.FailureSpamComplaint:
		return types.SuppressionComplaint, true
	case types.FailureInvalidEmail:
		return types.SuppressionInvalidEmail, true
	default:
		return "", false
	}
}
