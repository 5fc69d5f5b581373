package domain

import (
	"testing"
	"time"
)

func TestNewTask(t *testing.T) {
	task := NewTask("https://example.com/video/123", TaskTypeVideo, 5)

	if task.ID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Error("ID should be generated")
	}
	if task.Status != TaskStatusPending {
		t.Errorf("expected status pending, got %s", task.Status)
	}
	if task.Priority != 5 {
		t.Errorf("expected priority 5, got %d", task.Priority)
	}
	if task.MaxRetries != DefaultMaxRetries {
		t.Errorf("expected max retries %d, got %d", DefaultMaxRetries, task.MaxRetries)
	}
	if task.RetryCount != 0 {
		t.Error("retry count should start at zero")
	}
	if task.CreatedAt.IsZero() || task.UpdatedAt.IsZero() {
		t.Error("timestamps should be set")
	}
}

func TestTask_IncrementRetry(t *testing.T) {
	task := NewTask("https://example.com/video/1", TaskTypeVideo, 0)
	task.MaxRetries = 2

	if !task.IncrementRetry() {
		t.Error("first retry should be allowed")
	}
	if task.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", task.RetryCount)
	}

	// Second increment reaches the ceiling
	if task.IncrementRetry() {
		t.Error("retry past the ceiling should not be allowed")
	}
	if task.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", task.RetryCount)
	}
	if task.CanRetry() {
		t.Error("CanRetry should be false at the ceiling")
	}
}

func TestTask_StatusTransitions(t *testing.T) {
	task := NewTask("https://example.com/video/1", TaskTypeVideo, 0)

	task.MarkProcessing()
	if task.Status != TaskStatusProcessing {
		t.Errorf("expected processing, got %s", task.Status)
	}

	task.MarkRetrying()
	if task.Status != TaskStatusRetrying {
		t.Errorf("expected retrying, got %s", task.Status)
	}

	task.MarkCompleted()
	if task.Status != TaskStatusCompleted {
		t.Errorf("expected completed, got %s", task.Status)
	}
	if task.CompletedAt == nil {
		t.Error("CompletedAt should be stamped")
	}
	if !task.Status.IsTerminal() {
		t.Error("completed should be terminal")
	}
}

func TestTask_MarkFailed(t *testing.T) {
	task := NewTask("https://example.com/video/1", TaskTypeVideo, 0)
	task.MarkFailed("404 not found")

	if task.Status != TaskStatusFailed {
		t.Errorf("expected failed, got %s", task.Status)
	}
	if task.ErrorMessage != "404 not found" {
		t.Errorf("unexpected error message: %s", task.ErrorMessage)
	}
	if !task.Status.IsTerminal() {
		t.Error("failed should be terminal")
	}
}

func TestTask_Duration(t *testing.T) {
	task := NewTask("https://example.com/video/1", TaskTypeVideo, 0)

	if task.Duration() != 0 {
		t.Error("duration should be zero before completion")
	}

	completed := task.CreatedAt.Add(3 * time.Second)
	task.CompletedAt = &completed

	if task.Duration() != 3*time.Second {
		t.Errorf("expected 3s, got %v", task.Duration())
	}
}

func TestDetectTaskType(t *testing.T) {
	cases := []struct {
		url  string
		want TaskType
	}{
		{"https://example.com/user/abc", TaskTypeUser},
		{"https://example.com/video/123", TaskTypeVideo},
		{"https://example.com/note/456", TaskTypeVideo},
		{"https://example.com/music/789", TaskTypeAudio},
		{"https://example.com/mix/1", TaskTypeMix},
		{"https://example.com/collection/2", TaskTypeMix},
		{"https://live.example.com/room/3", TaskTypeLive},
		{"https://example.com/whatever", TaskTypeVideo},
	}

	for _, tc := range cases {
		if got := DetectTaskType(tc.url); got != tc.want {
			t.Errorf("DetectTaskType(%q) = %s, want %s", tc.url, got, tc.want)
		}
	}
}

func TestTaskStatus_IsTerminal(t *testing.T) {
	for _, s := range []TaskStatus{TaskStatusPending, TaskStatusProcessing, TaskStatusRetrying} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []TaskStatus{TaskStatusCompleted, TaskStatusFailed} {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
