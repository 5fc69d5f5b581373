// Downpour — демон планирования загрузок.
//
// Демон:
//   - Восстанавливает незавершённые задачи из Postgres при старте
//   - Принимает локаторы из аргументов и файла со списком
//   - Раздаёт задачи пулу воркеров с адаптивным лимитером скорости
//   - Публикует события прогресса в RabbitMQ (если брокер доступен)
//   - Экспортирует метрики на /metrics
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/shaiso/Downpour/internal/domain"
	"github.com/shaiso/Downpour/internal/mq"
	"github.com/shaiso/Downpour/internal/orchestrator"
	"github.com/shaiso/Downpour/internal/progress"
	"github.com/shaiso/Downpour/internal/queue"
	"github.com/shaiso/Downpour/internal/ratelimit"
	"github.com/shaiso/Downpour/internal/repo"
	"github.com/shaiso/Downpour/internal/strategy"
	"github.com/shaiso/Downpour/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

type options struct {
	workers      int
	outputDir    string
	urlFile      string
	priorityLane bool

	maxPerSecond int
	maxPerMinute int
	maxPerHour   int
	limitMode    string
	cooldown     time.Duration

	maxRetries int
	port       string
	exportPath string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "downpour [urls...]",
		Short:         "Downpour — download scheduling daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args)
		},
	}

	flags := rootCmd.Flags()
	flags.IntVar(&opts.workers, "workers", 3, "worker pool size")
	flags.StringVar(&opts.outputDir, "output", "./downloads", "output directory")
	flags.StringVar(&opts.urlFile, "url-file", "", "file with one URL per line")
	flags.BoolVar(&opts.priorityLane, "priority-lane", true, "enable the priority lane")
	flags.IntVar(&opts.maxPerSecond, "rate-second", 2, "request ceiling per second")
	flags.IntVar(&opts.maxPerMinute, "rate-minute", 30, "request ceiling per minute")
	flags.IntVar(&opts.maxPerHour, "rate-hour", 1000, "request ceiling per hour")
	flags.StringVar(&opts.limitMode, "rate-mode", "adaptive", "rate limiter mode: fixed, adaptive, burst")
	flags.DurationVar(&opts.cooldown, "cooldown", time.Minute, "cooldown after a failure burst")
	flags.IntVar(&opts.maxRetries, "max-retries", 3, "retry ceiling per task")
	flags.StringVar(&opts.port, "port", "8090", "HTTP port for /healthz and /metrics")
	flags.StringVar(&opts.exportPath, "export", "", "write a JSON results report on shutdown")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, args []string) error {
	logger := telemetry.SetupLogger()
	logger.Info("starting downpour", "version", version)

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	logger.Info("database connected")

	taskRepo := repo.NewTaskRepo(pool)
	if err := taskRepo.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	// Трекер событий
	tracker := progress.NewTracker(logger)
	defer tracker.Close()

	// Очередь с восстановлением; checkpoint рассылает stats_update
	q, err := queue.New(queue.Config{Store: taskRepo, Tracker: tracker, Logger: logger})
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	restored, err := q.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover queue: %w", err)
	}
	if restored > 0 {
		logger.Info("recovered unfinished tasks", "count", restored)
	}

	q.StartMaintenance()
	defer q.StopMaintenance()

	// Лимитер
	limiter, err := ratelimit.New(ratelimit.Config{
		MaxPerSecond: opts.maxPerSecond,
		MaxPerMinute: opts.maxPerMinute,
		MaxPerHour:   opts.maxPerHour,
		Strategy:     ratelimit.Strategy(opts.limitMode),
		Cooldown:     opts.cooldown,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create rate limiter: %w", err)
	}

	// RabbitMQ — необязательный мост событий
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}
	if mqConn, err := mq.NewConnection(mqURL, logger); err != nil {
		logger.Warn("RabbitMQ not available, events stay local", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		} else {
			mq.NewEventPublisher(mqConn, logger).Attach(tracker)
			logger.Info("event bridge connected")
		}
	}

	// Оркестратор со стратегиями
	orch := orchestrator.New(orchestrator.Config{
		Queue:        q,
		Limiter:      limiter,
		Tracker:      tracker,
		Workers:      opts.workers,
		PriorityLane: opts.priorityLane,
		Logger:       logger,
	})

	meter := progress.NewMeter(tracker, time.Second)
	fetch := strategy.NewHTTPFetch(strategy.HTTPFetchConfig{
		OutputDir:  opts.outputDir,
		OnProgress: meter.Observe,
	})
	retrying := strategy.NewRetry(fetch, strategy.RetryConfig{
		MaxRetries: opts.maxRetries,
		Logger:     logger,
	})
	orch.RegisterStrategy(retrying)

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// Входные локаторы: аргументы + файл
	urls := args
	if opts.urlFile != "" {
		fromFile, err := readURLFile(opts.urlFile)
		if err != nil {
			return fmt.Errorf("read url file: %w", err)
		}
		urls = append(urls, fromFile...)
	}
	if len(urls) > 0 {
		if _, err := orch.SubmitBatch(ctx, urls); err != nil {
			logger.Error("batch submit failed", "error", err)
		} else {
			logger.Info("batch submitted", "count", len(urls))
		}
	}

	// HTTP mux: /healthz + /metrics + read-only срезы состояния
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := orch.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snapshots, err := taskRepo.RecentSnapshots(r.Context(), time.Now().Add(-24*time.Hour), 60)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{
			"stats":     stats,
			"limiter":   limiter.Stats(),
			"retry":     retrying.Stats(),
			"snapshots": snapshots,
		})
	})
	mux.HandleFunc("/tasks", func(w http.ResponseWriter, r *http.Request) {
		status := domain.TaskStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = domain.TaskStatusFailed
		}
		tasks, err := taskRepo.ListByStatus(r.Context(), status, 100)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, tasks)
	})

	go func() {
		addr := ":" + opts.port
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()

	orch.Stop()

	if opts.exportPath != "" {
		exportCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := orch.ExportResults(exportCtx, opts.exportPath); err != nil {
			logger.Error("export failed", "error", err)
		}
	}

	logger.Info("downpour stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// readURLFile читает локаторы из файла, по одному на строку.
// Пустые строки и строки-комментарии (#) пропускаются.
func readURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}
