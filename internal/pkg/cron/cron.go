package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic job. Run returns the number of items it handled.
type Task struct {
	Name     string
	Interval time.Duration
	// RunOnStart runs the task once as soon as the service starts.
	RunOnStart bool
	Run        func(ctx context.Context) (int, error)
}

type Service struct {
	tasks    []Task
	log      *zap.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewService(log *zap.Logger, tasks ...Task) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		tasks:    tasks,
		log:      log,
		stopChan: make(chan struct{}),
	}
}

// Start launches one goroutine per task. Tasks without a positive interval
// are skipped.
func (s *Service) Start() {
	started := 0
	for _, task := range s.tasks {
		if task.Interval <= 0 || task.Run == nil {
			s.log.Warn("cron task skipped", zap.String("task", task.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(task)
		started++
	}
	s.log.Info("cron service started", zap.Int("tasks", started))
}

// Stop signals every task loop and waits for in-flight runs to return.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.log.Info("cron service stopped")
}

func (s *Service) loop(task Task) {
	defer s.wg.Done()

	if task.RunOnStart {
		s.run(task)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.run(task)
		}
	}
}

func (s *Service) run(task Task) (int, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopChan:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	n, err := task.Run(ctx)
	if err != nil {
		s.log.Error("cron task failed", zap.String("task", task.Name), zap.Error(err))
		return n, err
	}
	if n > 0 {
		s.log.Info("cron task finished",
			zap.String("task", task.Name),
			zap.Int("handled", n),
			zap.Duration("took", time.Since(start)),
		)
	}
	return n, nil
}

// RunNow runs the named task synchronously.
func (s *Service) RunNow(name string) (int, error) {
	for _, task := range s.tasks {
		if task.Name == name {
			return s.run(task)
		}
	}
	return 0, fmt.Errorf("cron: unknown task %q", name)
}
