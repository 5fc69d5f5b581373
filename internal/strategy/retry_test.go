package strategy

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Downpour/internal/domain"
)

// scriptedStrategy returns one outcome per call: an empty string means
// success, anything else becomes a failed result with that message.
// The last outcome repeats when the script runs out.
type scriptedStrategy struct {
	outcomes []string
	calls    int
}

func (s *scriptedStrategy) Name() string                     { return "scripted" }
func (s *scriptedStrategy) Priority() int                    { return 7 }
func (s *scriptedStrategy) CanHandle(task *domain.Task) bool { return true }

func (s *scriptedStrategy) Download(_ context.Context, task *domain.Task) (*domain.DownloadResult, error) {
	i := s.calls
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	s.calls++

	msg := s.outcomes[i]
	if msg == "" {
		return &domain.DownloadResult{Success: true, TaskID: task.ID}, nil
	}
	return &domain.DownloadResult{Success: false, TaskID: task.ID, ErrorMessage: msg}, nil
}

// newTestRetry wires a retry wrapper with recorded sleeps and zero jitter.
func newTestRetry(inner Strategy, cfg RetryConfig) (*Retry, *[]time.Duration) {
	r := NewRetry(inner, cfg)
	var slept []time.Duration
	r.sleep = func(d time.Duration) { slept = append(slept, d) }
	r.rand = func() float64 { return 0 }
	return r, &slept
}

func TestRetry_FirstAttemptSuccess(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{""}}
	r, slept := newTestRetry(inner, RetryConfig{})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 attempt, got %d", inner.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("no backoff expected, slept %v", *slept)
	}

	stats := r.Stats()
	if stats.TotalRetries != 0 || stats.SuccessfulRetries != 0 || stats.FailedRetries != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRetry_TransientFailureSucceedsOnThirdAttempt(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"connection reset", "connection reset", ""}}
	r, slept := newTestRetry(inner, RetryConfig{})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.ErrorMessage)
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}

	// Default table backoff with zero jitter: 1s then 2s
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("unexpected backoff sequence: %v", *slept)
	}

	stats := r.Stats()
	if stats.TotalRetries != 2 {
		t.Errorf("expected 2 total retries, got %d", stats.TotalRetries)
	}
	if stats.SuccessfulRetries != 1 {
		t.Errorf("expected 1 successful retry, got %d", stats.SuccessfulRetries)
	}
	if task.RetryCount != 2 {
		t.Errorf("expected task retry count 2, got %d", task.RetryCount)
	}
}

func TestRetry_FatalFailureStopsImmediately(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"HTTP 404"}}
	r, slept := newTestRetry(inner, RetryConfig{})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if inner.calls != 1 {
		t.Errorf("fatal error must not be retried, got %d attempts", inner.calls)
	}
	if len(*slept) != 0 {
		t.Errorf("no backoff expected, slept %v", *slept)
	}
	if task.RetryCount != 0 {
		t.Errorf("task retry count must stay 0, got %d", task.RetryCount)
	}
}

func TestRetry_DeletedResourceStopsImmediately(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"410 gone: video deleted"}}
	r, _ := newTestRetry(inner, RetryConfig{})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if inner.calls != 1 {
		t.Errorf("expected a single attempt, got %d", inner.calls)
	}
	if task.RetryCount != 0 {
		t.Errorf("task retry count must stay 0, got %d", task.RetryCount)
	}
}

func TestRetry_ExhaustionReportsAttemptCount(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"timeout"}}
	r, slept := newTestRetry(inner, RetryConfig{MaxRetries: 3})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	if inner.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", inner.calls)
	}
	if len(*slept) != 2 {
		t.Errorf("expected 2 backoff pauses, got %v", *slept)
	}
	want := "failed after 3 attempts: timeout"
	if result.ErrorMessage != want {
		t.Errorf("message = %q, want %q", result.ErrorMessage, want)
	}

	stats := r.Stats()
	if stats.FailedRetries != 1 {
		t.Errorf("expected 1 failed retry, got %d", stats.FailedRetries)
	}
}

func TestRetry_HonorsTaskCeiling(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"timeout"}}
	r, _ := newTestRetry(inner, RetryConfig{MaxRetries: 5})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	task.MaxRetries = 1

	result, err := r.Download(context.Background(), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure")
	}
	// Attempt, one retry, then the task's own ceiling stops the loop
	if inner.calls != 2 {
		t.Errorf("expected 2 attempts, got %d", inner.calls)
	}
	if task.RetryCount > task.MaxRetries {
		t.Errorf("retry count %d exceeded ceiling %d", task.RetryCount, task.MaxRetries)
	}
}

func TestRetry_ExponentialBackoff(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"timeout"}}
	r, slept := newTestRetry(inner, RetryConfig{MaxRetries: 8, Backoff: BackoffExponential})

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	task.MaxRetries = 10

	if _, err := r.Download(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 30 * time.Second, 30 * time.Second,
	}
	if len(*slept) != len(want) {
		t.Fatalf("expected %d pauses, got %v", len(want), *slept)
	}
	for i, d := range want {
		if (*slept)[i] != d {
			t.Errorf("pause %d = %v, want %v", i, (*slept)[i], d)
		}
	}
}

func TestRetry_JitterBounded(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"timeout", ""}}
	r, slept := newTestRetry(inner, RetryConfig{})
	r.rand = func() float64 { return 1.0 }

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	if _, err := r.Download(context.Background(), task); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Max jitter adds 30% on top of the 1s base delay
	if len(*slept) != 1 || (*slept)[0] != 1300*time.Millisecond {
		t.Errorf("unexpected pause: %v", *slept)
	}
}

func TestRetry_ContextCancelDuringBackoff(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{"timeout"}}
	r := NewRetry(inner, RetryConfig{})
	r.sleep = func(d time.Duration) { time.Sleep(time.Hour) }

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	if _, err := r.Download(ctx, task); err != context.Canceled {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRetry_Delegation(t *testing.T) {
	inner := &scriptedStrategy{outcomes: []string{""}}
	r, _ := newTestRetry(inner, RetryConfig{})

	if !strings.Contains(r.Name(), "scripted") {
		t.Errorf("wrapper name should mention inner name, got %q", r.Name())
	}
	if r.Priority() != inner.Priority() {
		t.Errorf("priority not delegated: %d != %d", r.Priority(), inner.Priority())
	}
	task := domain.NewTask("https://example.com/video/1", domain.TaskTypeVideo, 0)
	if !r.CanHandle(task) {
		t.Error("CanHandle not delegated")
	}
}
