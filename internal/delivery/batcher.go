package delivery

/*
Batcher — асинхронная запись доставленных отчетов в хранилище.

- Enqueue не блокирует горячий путь: отчет кладется в буферизованный канал,
  при переполнении отчет сбрасывается с записью в лог (Load Shedding).
- Воркер копит отчеты и пишет пачкой по размеру или по таймеру.
- Stop закрывает канал и ждет, пока воркер вычитает остатки и сделает
  финальный flush (Drain Pattern).
*/

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// ErrStopped возвращается Enqueue после Stop.
var ErrStopped = errors.New("delivery: batcher stopped")

// ErrOverflow возвращается Enqueue, когда буфер заполнен.
var ErrOverflow = errors.New("delivery: buffer overflow")

// Storage определяет, куда физически сохраняются отчеты.
type Storage interface {
	WriteBatch(ctx context.Context, reports []Report) error
}

type BatcherOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	// BufferFill — необязательный gauge заполненности буфера
	BufferFill prometheus.Gauge
}

type Batcher struct {
	ch     chan Report
	repo   Storage
	logger *zap.Logger
	opts   BatcherOptions

	mu       sync.RWMutex // держит закрытие канала против параллельной отправки
	wg       sync.WaitGroup
	isClosed atomic.Bool
}

func NewBatcher(repo Storage, opts BatcherOptions, logger *zap.Logger) *Batcher {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	return &Batcher{
		ch:     make(chan Report, opts.BufferSize),
		repo:   repo,
		logger: logger.Named("batcher"),
		opts:   opts,
	}
}

func (b *Batcher) Start() {
	b.wg.Add(1)
	go b.worker()
}

// Stop запирает вход и ждет, пока воркер всё допишет.
func (b *Batcher) Stop() {
	b.mu.Lock()
	if b.isClosed.Swap(true) {
		b.mu.Unlock()
		return
	}
	b.logger.Info("stopping batcher: closing channel and flushing buffer...")
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("batcher stopped gracefully")
}

// Enqueue ставит отчет в очередь. Не блокирует.
func (b *Batcher) Enqueue(rep Report) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isClosed.Load() {
		b.logger.Warn("report dropped: batcher is stopping", zap.String("id", rep.ID))
		return ErrStopped
	}

	select {
	case b.ch <- rep:
		b.observeFill()
		return nil
	default:
		b.logger.Error("report_buffer_overflow", zap.String("id", rep.ID), zap.String("ip", rep.IP))
		return ErrOverflow
	}
}

func (b *Batcher) worker() {
	defer b.wg.Done()

	batch := make([]Report, 0, b.opts.BatchSize)
	ticker := time.NewTicker(b.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: контекст приложения к этому моменту может быть уже отменен
		if err := b.repo.WriteBatch(context.Background(), batch); err != nil {
			b.logger.Error("report flush failed", zap.Int("count", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rep, ok := <-b.ch:
			if !ok {
				flush()
				b.logger.Info("batch worker finished")
				return
			}
			b.observeFill()
			batch = append(batch, rep)
			if len(batch) >= b.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (b *Batcher) observeFill() {
	if b.opts.BufferFill != nil {
		b.opts.BufferFill.Set(float64(len(b.ch)))
	}
}
