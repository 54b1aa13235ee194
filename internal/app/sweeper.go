package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper periodically saves and closes editor sessions nobody touched for
// longer than the configured idle time.
type Sweeper struct {
	service *Service
	cron    *cron.Cron
	idle    time.Duration
	logger  *zap.Logger
}

func NewSweeper(service *Service, schedule string, idle time.Duration) (*Sweeper, error) {
	s := &Sweeper{
		service: service,
		cron:    cron.New(),
		idle:    idle,
		logger:  service.logger.Named("sweeper"),
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule editor sweep %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	s.service.SweepEditors(ctx, s.idle)
}

func (s *Sweeper) Start() {
	s.logger.Info("editor sweep scheduled", zap.Duration("idle", s.idle))
	s.cron.Start()
}

// Stop waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
