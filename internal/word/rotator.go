package word

import (
	"context"
	"sync"
	"time"
)

// Rotator периодически пытается сменить слово оракула
type Rotator struct {
	oracle   *Oracle
	lifetime time.Duration
	now      func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRotator создаёт фоновую ротацию с заданным временем жизни слова
func NewRotator(oracle *Oracle, lifetime time.Duration) *Rotator {
	return &Rotator{
		oracle:   oracle,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Start запускает цикл ротации. Цикл завершается при отмене ctx или Stop.
func (r *Rotator) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop останавливает цикл и ждёт его завершения
func (r *Rotator) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Rotator) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.lifetime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.oracle.RotateIfExpired(r.now(), r.lifetime)
		}
	}
}
