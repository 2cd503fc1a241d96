// Package sweeper 定期清理已到期的封禁并广播 banDeleted。
package sweeper

import (
	"context"
	"sync/atomic"
	"time"

	"groupchat/internal/events"
	"groupchat/internal/metrics"
	"groupchat/internal/models"

	"github.com/rs/zerolog/log"
)

// Registry 是清理任务依赖的封禁存储。
type Registry interface {
	ListExpired() ([]models.Ban, error)
	Expire(ban models.Ban) (bool, error)
}

type Publisher interface {
	Publish(events.Event)
}

type Sweeper struct {
	bans     Registry
	pub      Publisher
	interval time.Duration
	busy     atomic.Bool
}

func New(bans Registry, pub Publisher, interval time.Duration) *Sweeper {
	return &Sweeper{bans: bans, pub: pub, interval: interval}
}

// Run 按固定间隔清理，直到 ctx 结束。清理在本 goroutine 内执行，
// 返回时不会留下仍在发布事件的清理。
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	log.Info().Dur("interval", s.interval).Msg("ban sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("ban sweeper stopped")
			return nil
		case <-ticker.C:
			if ctx.Err() != nil {
				continue
			}
			s.Sweep()
		}
	}
}

// Sweep 执行一轮清理，返回实际删除的条数。上一轮尚未结束时跳过并返回 false。
func (s *Sweeper) Sweep() (int, bool) {
	if !s.busy.CompareAndSwap(false, true) {
		metrics.BansSweptTotal.WithLabelValues("skipped").Inc()
		log.Debug().Msg("ban sweep already running, skipping")
		return 0, false
	}
	defer s.busy.Store(false)

	bans, err := s.bans.ListExpired()
	if err != nil {
		log.Error().Err(err).Msg("ban sweep list")
		return 0, true
	}
	deleted := 0
	for _, ban := range bans {
		ok, err := s.bans.Expire(ban)
		switch {
		case err != nil:
			metrics.BansSweptTotal.WithLabelValues("error").Inc()
			log.Error().Err(err).Uint("ban_id", ban.ID).Msg("ban sweep expire")
			continue
		case !ok:
			metrics.BansSweptTotal.WithLabelValues("gone").Inc()
			continue
		}
		deleted++
		metrics.BansSweptTotal.WithLabelValues("deleted").Inc()
		s.pub.Publish(events.BanEvent{Action: events.Deleted, Ban: ban})
	}
	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("expired bans swept")
	}
	return deleted, true
}
