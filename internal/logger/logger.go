// Package logger implements a non-blocking, batched request logger.
//
// Log entries are written to an internal buffered channel and flushed in
// batches by a background goroutine — so logging never blocks the proxy hot
// path. If the channel fills up (> 10 000 entries), new entries are dropped
// and counted in DroppedLogs. When a ClickHouse DSN is configured, batches
// are also inserted into a request_logs table for durable analytics; slog
// output happens regardless.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

type RequestLog struct {
	ID           uuid.UUID
	Provider     string
	Model        string
	InputTokens  uint32
	OutputTokens uint32
	LatencyMs    uint16
	Status       uint16
	Cached       bool
	CreatedAt    time.Time
}

type Logger struct {
	ch        chan RequestLog
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	ch2     clickhouse.Conn // nil disables the durable sink
}

// New builds a Logger that always logs via slog. If dsn is non-empty it
// also opens a ClickHouse connection and inserts every flushed batch into
// request_logs; a ClickHouse outage never blocks the hot path — insert
// errors are logged and the batch is dropped from the durable sink only.
func New(ctx context.Context, slogger *slog.Logger, dsn string) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("logger: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	l := &Logger{
		ch:      make(chan RequestLog, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
	}

	if dsn != "" {
		conn, err := clickhouse.Open(&clickhouse.Options{Addr: []string{dsn}})
		if err != nil {
			return nil, fmt.Errorf("logger: clickhouse: %w", err)
		}
		if err := conn.Ping(ctx); err != nil {
			return nil, fmt.Errorf("logger: clickhouse ping: %w", err)
		}
		l.ch2 = conn
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

func (l *Logger) Log(entry RequestLog) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
	if l.ch2 != nil {
		return l.ch2.Close()
	}
	return nil
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]RequestLog, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, e := range batch {
			l.log.InfoContext(ctx, "request",
				slog.String("id", e.ID.String()),
				slog.String("provider", e.Provider),
				slog.String("model", e.Model),
				slog.Uint64("input_tokens", uint64(e.InputTokens)),
				slog.Uint64("output_tokens", uint64(e.OutputTokens)),
				slog.Uint64("latency_ms", uint64(e.LatencyMs)),
				slog.Uint64("status", uint64(e.Status)),
				slog.Bool("cached", e.Cached),
				slog.Time("created_at", normalizeTime(e.CreatedAt)),
			)
		}
		l.insertBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}

// insertBatch inserts one flushed batch into ClickHouse. A no-op when the
// durable sink is disabled.
func (l *Logger) insertBatch(ctx context.Context, batch []RequestLog) {
	if l.ch2 == nil {
		return
	}

	b, err := l.ch2.PrepareBatch(ctx, "INSERT INTO request_logs "+
		"(id, provider, model, input_tokens, output_tokens, latency_ms, status, cached, created_at)")
	if err != nil {
		l.log.ErrorContext(ctx, "clickhouse prepare batch failed", slog.String("error", err.Error()))
		return
	}

	for _, e := range batch {
		if err := b.Append(
			e.ID, e.Provider, e.Model, e.InputTokens, e.OutputTokens,
			e.LatencyMs, e.Status, e.Cached, normalizeTime(e.CreatedAt),
		); err != nil {
			l.log.ErrorContext(ctx, "clickhouse append failed", slog.String("error", err.Error()))
			return
		}
	}

	if err := b.Send(); err != nil {
		l.log.ErrorContext(ctx, "clickhouse batch insert failed", slog.String("error", err.Error()))
	}
}

func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
