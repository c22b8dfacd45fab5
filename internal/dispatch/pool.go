package dispatch

import (
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/annel0/wordle-server/internal/logging"
	"github.com/annel0/wordle-server/internal/metrics"
)

var (
	// ErrPoolSaturated нет свободного воркера и места в очереди
	ErrPoolSaturated = errors.New("worker pool saturated")
	// ErrPoolStopped пул уже остановлен
	ErrPoolStopped = errors.New("worker pool stopped")
	// ErrDrainTimeout воркеры не завершились за отведённое время
	ErrDrainTimeout = errors.New("worker pool drain timeout")
)

// Task единица работы пула
type Task func()

// WorkerPool фиксированный пул воркеров с ограниченной очередью.
// TrySubmit никогда не блокирует вызывающего.
type WorkerPool struct {
	mu      sync.RWMutex
	tasks   chan Task
	stopped bool
	size    int
	wg      sync.WaitGroup
	logger  *logging.Logger
}

// DefaultPoolSize 2 * GOMAXPROCS
func DefaultPoolSize() int {
	return 2 * runtime.GOMAXPROCS(0)
}

// NewWorkerPool создаёт и запускает пул. queue = 0 означает приём задачи
// только при наличии свободного воркера.
func NewWorkerPool(size, queue int) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize()
	}
	if queue < 0 {
		queue = 0
	}

	p := &WorkerPool{
		tasks:  make(chan Task, queue),
		size:   size,
		logger: logging.GetDispatchLogger(),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	p.logger.Info("👷 Пул воркеров запущен: %d воркеров, очередь %d", size, queue)
	return p
}

// Size количество воркеров
func (p *WorkerPool) Size() int {
	return p.size
}

// TrySubmit ставит задачу в пул без ожидания
func (p *WorkerPool) TrySubmit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		metrics.PoolInFlight.Inc()
		return nil
	default:
		metrics.PoolRejections.Inc()
		return ErrPoolSaturated
	}
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	for task := range p.tasks {
		p.run(id, task)
		metrics.PoolInFlight.Dec()
	}
}

func (p *WorkerPool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Паника в воркере %d: %v", id, r)
		}
	}()
	task()
}

// Stop прекращает приём задач и ждёт завершения уже принятых не дольше grace
func (p *WorkerPool) Stop(grace time.Duration) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("👷 Пул воркеров остановлен")
		return nil
	case <-time.After(grace):
		p.logger.Warn("⚠️ Пул воркеров не завершился за %v", grace)
		return ErrDrainTimeout
	}
}
