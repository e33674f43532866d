package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/tickerdesk/tickerdesk/internal/agent"
	"github.com/tickerdesk/tickerdesk/internal/market"
	"github.com/tickerdesk/tickerdesk/internal/query"
	"github.com/tickerdesk/tickerdesk/internal/store"
)

// Scheduler fires recurring queries into the job queue when their cron
// schedule comes due. A redis SetNX lock keeps multiple instances from
// double-firing the same registration.
type Scheduler struct {
	Store    *store.Store
	Queue    jobQueue
	Rdb      *redis.Client
	Interval time.Duration
	Stop     chan struct{}

	logger *log.Logger
}

func (s *Scheduler) Start() {
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	interval := s.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	scheduled, err := s.Store.ListEnabledScheduledQueries(ctx)
	if err != nil {
		s.logger.Printf("list scheduled queries: %v", err)
		return
	}
	for _, sq := range scheduled {
		if !isDue(sq.CronSpec, sq.LastRunAt) {
			continue
		}

		if s.Rdb != nil {
			lockKey := "sched:lock:" + sq.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", 2*time.Minute).Result()
			if !ok {
				continue
			}
		}

		now := time.Now().UTC()
		if err := s.Store.MarkScheduledQueryRun(ctx, sq.ID, now); err != nil {
			s.logger.Printf("mark scheduled query %s: %v", sq.ID, err)
			continue
		}
		job := s.Queue.Enqueue(query.Request{
			UserID:   sq.UserID,
			Question: sq.Question,
			Mode:     agent.Mode(sq.Mode),
			Profile:  market.Profile(sq.Profile),
		})
		s.logger.Printf("fired scheduled query %s as job %s", sq.ID, job.ID)
	}
}

// isDue determines if a schedule should run now based on its last run
// time. Supports "@daily", "@hourly", and standard 5-field cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			// Invalid spec falls back to @daily.
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
