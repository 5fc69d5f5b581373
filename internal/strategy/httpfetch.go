package strategy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shaiso/Downpour/internal/domain"
	"github.com/shaiso/Downpour/internal/telemetry"
)

const (
	defaultFetchTimeout = 2 * time.Minute
	copyChunkSize       = 256 * 1024
)

// ProgressFunc вызывается по мере скачивания тела ответа.
// total < 0 — длина заранее неизвестна.
type ProgressFunc func(task *domain.Task, written, total int64)

// HTTPFetchConfig — конфигурация базовой HTTP-стратегии.
type HTTPFetchConfig struct {
	// OutputDir — каталог для скачанных файлов (default: ".").
	OutputDir string

	// Client — HTTP-клиент (default: клиент с таймаутом 2m).
	Client *http.Client

	// OnProgress — необязательный callback прогресса.
	OnProgress ProgressFunc
}

// HTTPFetch — базовая стратегия: обычный GET с записью тела в файл.
// Стоит в конце цепочки и подбирает всё, что умеет говорить по HTTP.
// Логгер берётся из контекста вызова (telemetry.WithLogger), поэтому
// записи несут worker_id и task_id выполняющего воркера.
type HTTPFetch struct {
	outputDir  string
	client     *http.Client
	onProgress ProgressFunc
}

// NewHTTPFetch создаёт стратегию прямой HTTP-загрузки.
func NewHTTPFetch(cfg HTTPFetchConfig) *HTTPFetch {
	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}

	return &HTTPFetch{
		outputDir:  outputDir,
		client:     client,
		onProgress: cfg.OnProgress,
	}
}

func (h *HTTPFetch) Name() string { return "http-fetch" }

// Priority — нулевой: стратегия-ловушка в конце цепочки.
func (h *HTTPFetch) Priority() int { return 0 }

// CanHandle принимает любой корректный http/https URL.
func (h *HTTPFetch) CanHandle(task *domain.Task) bool {
	u, err := url.Parse(task.URL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Download выполняет GET и пишет тело в файл, именованный по ID задачи.
// Повторная попытка перезаписывает тот же файл, поэтому повтор идемпотентен.
func (h *HTTPFetch) Download(ctx context.Context, task *domain.Task) (*domain.DownloadResult, error) {
	started := time.Now()
	logger := telemetry.FromContext(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return h.failure(logger, task, started, fmt.Sprintf("invalid request: %v", err)), nil
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return h.failure(logger, task, started, fmt.Sprintf("connection error: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Код попадает в текст ошибки и дальше в классификатор.
		return h.failure(logger, task, started, fmt.Sprintf("HTTP %d", resp.StatusCode)), nil
	}

	path := filepath.Join(h.outputDir, task.ID.String()+extensionFor(task.Type))
	written, err := h.writeBody(task, resp, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		os.Remove(path)
		return h.failure(logger, task, started, fmt.Sprintf("network write error: %v", err)), nil
	}

	if written == 0 {
		os.Remove(path)
		return h.failure(logger, task, started, "empty response"), nil
	}

	logger.Info("download finished",
		"task_id", task.ID,
		"path", path,
		"bytes", written,
		"elapsed", time.Since(started),
	)

	return &domain.DownloadResult{
		Success:   true,
		TaskID:    task.ID,
		FilePaths: []string{path},
		Metadata: map[string]string{
			"bytes":        strconv.FormatInt(written, 10),
			"content_type": resp.Header.Get("Content-Type"),
		},
		Duration:   time.Since(started),
		RetryCount: task.RetryCount,
	}, nil
}

// writeBody копирует тело ответа кусками, дёргая callback прогресса.
func (h *HTTPFetch) writeBody(task *domain.Task, resp *http.Response, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	total := resp.ContentLength
	var written int64
	buf := make([]byte, copyChunkSize)

	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, werr
			}
			written += int64(n)
			if h.onProgress != nil {
				h.onProgress(task, written, total)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}

func (h *HTTPFetch) failure(logger *slog.Logger, task *domain.Task, started time.Time, msg string) *domain.DownloadResult {
	logger.Warn("download failed", "task_id", task.ID, "error", msg)
	return &domain.DownloadResult{
		Success:      false,
		TaskID:       task.ID,
		ErrorMessage: msg,
		Duration:     time.Since(started),
		RetryCount:   task.RetryCount,
	}
}

func extensionFor(t domain.TaskType) string {
	switch t {
	case domain.TaskTypeVideo, domain.TaskTypeLive:
		return ".mp4"
	case domain.TaskTypeImage:
		return ".jpg"
	case domain.TaskTypeAudio:
		return ".mp3"
	default:
		return ".bin"
	}
}
