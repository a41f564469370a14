package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"futures_agent/internal/orchestrator"
)

// Scheduler triggers trading cycles on a fixed interval. Overlap prevention
// lives here, not in the orchestrator: a tick that fires while a cycle is
// still running is skipped.
type Scheduler struct {
	service  *orchestrator.Service
	interval time.Duration
	running  sync.Mutex
	stop     chan struct{}
}

func New(service *orchestrator.Service, intervalSec int) *Scheduler {
	return &Scheduler{
		service:  service,
		interval: time.Duration(intervalSec) * time.Second,
		stop:     make(chan struct{}),
	}
}

// Start launches the ticker loop in a background goroutine.
func (s *Scheduler) Start() {
	log.Printf("[定时器] 已启动 间隔=%s 币种=%v", s.interval, s.service.Currencies())

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce()
			case <-s.stop:
				log.Println("[定时器] 已停止")
				return
			}
		}
	}()
}

// Stop halts the ticker loop.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) runOnce() {
	if !s.running.TryLock() {
		log.Println("[定时器] ⚠ 上一周期仍在执行，跳过本次触发")
		return
	}
	defer s.running.Unlock()

	log.Println("[定时器] 自动执行交易周期")
	result := s.service.RunCycle(context.Background())
	log.Printf("[定时器] ✔ 周期结束 id=%s 状态=%s 耗时=%.1fs",
		result.ID, result.Status, result.Duration)
}
