// sweeper.go — фоновый перевод зависших конвертаций в failed.
//
// Запись остаётся в converting, если процесс упал посреди конвертации.
// Sweeper периодически переводит в failed записи, не изменявшиеся
// дольше grace. grace должен быть не меньше таймаута конвертации,
// иначе будут затронуты ещё выполняющиеся конвертации.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/svgconv/internal/repository"
)

// ReasonStuck — failure_reason записей, переведённых sweeper'ом.
const ReasonStuck = "conversion timed out"

var (
	sweeperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_sweeper_runs_total",
		Help: "Общее количество запусков sweeper",
	})

	sweeperFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cv_sweeper_failed_total",
		Help: "Общее количество зависших конвертаций, переведённых в failed",
	})
)

// SweepResult — результат одного запуска sweeper.
type SweepResult struct {
	// Failed — количество записей, переведённых в failed
	Failed int `json:"failed"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration_ns"`
}

// SweeperService — сервис перевода зависших конвертаций в failed.
type SweeperService struct {
	files    repository.FileRepository
	interval time.Duration
	grace    time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeperService создаёт sweeper.
func NewSweeperService(
	files repository.FileRepository,
	interval time.Duration,
	grace time.Duration,
	logger *slog.Logger,
) *SweeperService {
	return &SweeperService{
		files:    files,
		interval: interval,
		grace:    grace,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *SweeperService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Sweeper запущен",
		slog.String("interval", s.interval.String()),
		slog.String("grace", s.grace.String()),
	)
}

// Stop останавливает фоновый процесс и ждёт завершения текущего запуска.
func (s *SweeperService) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.logger.Info("Sweeper остановлен")
}

func (s *SweeperService) run(ctx context.Context) {
	defer close(s.done)

	// Первый запуск — сразу после старта: подбираем хвосты прошлого процесса
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход. Потокобезопасен.
func (s *SweeperService) RunOnce(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	cutoff := start.UTC().Add(-s.grace)

	n, err := s.files.FailStuckConverting(ctx, cutoff, ReasonStuck)
	sweeperRunsTotal.Inc()
	if err != nil {
		s.logger.Error("Sweeper: ошибка перевода зависших конвертаций",
			slog.String("error", err.Error()),
		)
		return nil, mapStoreError(err)
	}

	sweeperFailedTotal.Add(float64(n))
	result := &SweepResult{Failed: n, Duration: time.Since(start)}

	if n > 0 {
		s.logger.Warn("Sweeper: зависшие конвертации переведены в failed",
			slog.Int("failed", n),
			slog.Time("cutoff", cutoff),
		)
	} else {
		s.logger.Debug("Sweeper завершён", slog.Duration("duration", result.Duration))
	}
	return result, nil
}
