package mail

import (
	"testing"

	"chesshelper/internal/types"
)

func TestClassify_ProviderCodeTable(t *testing.T) {
	tests := []struct {
		name string
		res  types.TransportResult
		want types.FailureKind
	}{
		{"invalid email code", types.TransportResult{ProviderCode: "invalid_email"}, types.FailureInvalidEmail},
		{"hard bounce code", types.TransportResult{ProviderCode: "hard_bounce"}, types.FailureBouncedHard},
		{"soft bounce code", types.TransportResult{ProviderCode: "soft_bounce"}, types.FailureBouncedSoft},
		{"spam report code", types.TransportResult{ProviderCode: "spam_report"}, types.FailureSpamComplaint},
		{"rate limit code", types.TransportResult{ProviderCode: "rate_limit_exceeded"}, types.FailureRateLimit},
		{"quota code", types.TransportResult{ProviderCode: "quota_exceeded"}, types.FailureQuotaExceeded},
		{"auth code", types.TransportResult{ProviderCode: "invalid_api_key"}, types.FailureAuthFailure},
		{"smtp 5.1.1", types.TransportResult{ProviderCode: "5.1.1"}, types.FailureBouncedHard},
		{"smtp 4.2.2", types.TransportResult{ProviderCode: "4.2.2"}, types.FailureBouncedSoft},
		{"case and whitespace normalized", types.TransportResult{ProviderCode: "  Hard_Bounce "}, types.FailureBouncedHard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.res); got != tt.want {
				t.Errorf("Classify(%+v) = %q, want %q", tt.res, got, tt.want)
			}
		})
	}
}

func TestClassify_ProviderCodeBeatsStatusRange(t *testing.T) {
	// A 500 status with an explicit bounce code classifies as a bounce,
	// not as temporary.
	res := types.TransportResult{StatusCode: 500, ProviderCode: "hard_bounce"}
	if got := Classify(res); got != types.FailureBouncedHard {
		t.Errorf("expected bounced_hard, got %q", got)
	}
}

func TestClassify_StatusRanges(t *testing.T) {
	tests := []struct {
		status int
		want   types.FailureKind
	}{
		{400, types.FailureInvalidEmail},
		{401, types.FailureAuthFailure},
		{403, types.FailureAuthFailure},
		{404, types.FailurePermanent},
		{413, types.FailureQuotaExceeded},
		{422, types.FailureInvalidEmail},
		{429, types.FailureRateLimit},
		{451, types.FailurePermanent},
		{500, types.FailureTemporary},
		{502, types.FailureTemporary},
		{503, types.FailureServiceUnavailable},
		{504, types.FailureTemporary},
	}

	for _, tt := range tests {
		if got := Classify(types.TransportResult{StatusCode: tt.status}); got != tt.want {
			t.Errorf("status %d: expected %q, got %q", tt.status, tt.want, got)
		}
	}
}

func TestClassify_StatusRangeBeatsMessagePattern(t *testing.T) {
	// 429 with a bounce-looking message stays rate_limit.
	res := types.TransportResult{StatusCode: 429, Message: "user unknown"}
	if got := Classify(res); got != types.FailureRateLimit {
		t.Errorf("expected rate_limit, got %q", got)
	}
}

func TestClassify_MessagePatterns(t *testing.T) {
	tests := []struct {
		message string
		want    types.FailureKind
	}{
		{"550 user unknown", types.FailureBouncedHard},
		{"recipient address rejected", types.FailureBouncedHard},
		{"Mailbox is full", types.FailureQuotaExceeded},
		{"message rejected as spam", types.FailureSpamComplaint},
		{"rate limit exceeded, slow down", types.FailureRateLimit},
		{"authentication failed for sender", types.FailureAuthFailure},
		{"dial tcp 10.0.0.1:443: connection refused", types.FailureNetworkError},
		{"i/o timeout while reading response", types.FailureNetworkError},
		{"service unavailable, down for maintenance", types.FailureServiceUnavailable},
		{"greylisted, try again later", types.FailureTemporary},
		{"invalid email address supplied", types.FailureInvalidEmail},
	}

	for _, tt := range tests {
		res := types.TransportResult{StatusCode: 0, Message: tt.message}
		if got := Classify(res); got != tt.want {
			t.Errorf("message %q: expected %q, got %q", tt.message, tt.want, got)
		}
	}
}

func TestClassify_NetworkLevelDefault(t *testing.T) {
	// Status 0 with no recognizable message is a network-level failure.
	res := types.TransportResult{StatusCode: 0, Message: "something odd happened"}
	if got := Classify(res); got != types.FailureNetworkError {
		t.Errorf("expected network_error, got %q", got)
	}
	if got := Classify(types.TransportResult{}); got != types.FailureNetworkError {
		t.Errorf("empty result: expected network_error, got %q", got)
	}
}

func TestClassify_UnknownFallback(t *testing.T) {
	// An unrecognized status with an unrecognized message is unknown.
	res := types.TransportResult{StatusCode: 302, Message: "redirected somewhere"}
	if got := Classify(res); got != types.FailureUnknown {
		t.Errorf("expected unknown, got %q", got)
	}
}

func TestClassify_Deterministic(t *testing.T) {
	res := types.TransportResult{StatusCode: 503, ProviderCode: "", Message: "service unavailable"}
	first := Classify(res)
	for i := 0; i < 10; i++ {
		if got := Classify(res); got != first {
			t.Fatalf("classification not deterministic: %q then %q", first, got)
		}
	}
}

func TestSuppressionReasonFor(t *testing.T) {
	tests := []struct {
		kind   types.FailureKind
		reason types.SuppressionReason
		ok     bool
	}{
		{types.FailureBouncedHard, types.SuppressionHardBounce, true},
		{types.FailureSpamComplaint, types.SuppressionComplaint, true},
		{types.FailureInvalidEmail, types.SuppressionInvalidEmail, true},
		{types.FailureTemporary, "", false},
		{types.FailureRateLimit, "", false},
		{types.FailureAuthFailure, "", false},
	}

	for _, tt := range tests {
		reason, ok := SuppressionReasonFor(tt.kind)
		if ok != tt.ok || reason != tt.reason {
			t.Errorf("kind %q: got (%q, %v), want (%q, %v)", tt.kind, reason, ok, tt.reason, tt.ok)
		}
	}
}
