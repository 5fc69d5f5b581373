package strategy

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		msg  string
		want Verdict
	}{
		{"", VerdictRetryable},
		{"timeout", VerdictRetryable},
		{"connection reset by peer", VerdictRetryable},
		{"network is unreachable", VerdictRetryable},
		{"HTTP 429", VerdictRetryable},
		{"HTTP 502", VerdictRetryable},
		{"HTTP 503", VerdictRetryable},
		{"HTTP 504", VerdictRetryable},
		{"empty response", VerdictRetryable},
		{"temporary failure in name resolution", VerdictRetryable},

		{"HTTP 404", VerdictFatal},
		{"HTTP 403", VerdictFatal},
		{"HTTP 401", VerdictFatal},
		{"HTTP 410", VerdictFatal},
		{"invalid url", VerdictFatal},
		{"resource not found", VerdictFatal},
		{"video deleted by owner", VerdictFatal},

		// Unknown messages default to retryable
		{"something odd happened", VerdictRetryable},
	}

	for _, tc := range cases {
		if got := Classify(tc.msg); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.msg, got, tc.want)
		}
	}
}

// The allow-list wins when both lists match: a retryable marker inside
// an otherwise fatal-looking message keeps the task alive.
func TestClassify_AllowListWins(t *testing.T) {
	if got := Classify("connection to deleted endpoint"); got != VerdictRetryable {
		t.Errorf("expected retryable verdict, got %v", got)
	}
	if got := Classify("timeout while checking 404 page"); got != VerdictRetryable {
		t.Errorf("expected retryable verdict, got %v", got)
	}
}
