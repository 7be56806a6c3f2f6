// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hivekit/hive/pkg/observability"
)

// StartMaintenance launches the background maintenance loop on the
// configured interval. Ticks that overlap a running pass are skipped.
func (s *Store) StartMaintenance() error {
	s.mu.Lock()
	if s.cron != nil {
		s.mu.Unlock()
		return nil
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	s.cron = c
	s.mu.Unlock()

	_, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), func() {
		s.Maintain(context.Background())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	c.Start()
	s.logger.Info("memory maintenance started", zap.Duration("interval", s.interval))
	return nil
}

// StopMaintenance stops the background loop. In-flight passes finish.
func (s *Store) StopMaintenance() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}
}

// Maintain runs one maintenance pass: expired entries are removed, scores
// are recomputed, and entries crossing a threshold are promoted, demoted,
// or deleted. Pinned entries are untouched.
func (s *Store) Maintain(ctx context.Context) {
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanMemoryMaintain)
	defer s.tracer.EndSpan(span)

	now := s.now()
	var expired, promoted, demoted int
	var persistWrites []*Entry
	var persistDeletes []string

	s.mu.Lock()
	for _, tier := range Tiers {
		cfg := s.configs[tier]
		// Key set snapshot: promotion and demotion mutate the maps.
		keys := make([]string, 0, len(s.tiers[tier]))
		for key := range s.tiers[tier] {
			keys = append(keys, key)
		}
		for _, key := range keys {
			e, ok := s.tiers[tier][key]
			if !ok || e.Tier != tier || e.Pinned {
				continue
			}
			if e.expired(now) {
				delete(s.tiers[tier], key)
				expired++
				if tier == TierPersistent {
					persistDeletes = append(persistDeletes, key)
				}
				continue
			}
			e.PromotionScore = promotionScore(e, now)
			e.DemotionScore = demotionScore(e, now)

			if cfg.PromoteAt > 0 && e.PromotionScore >= cfg.PromoteAt && nextTier(tier) != "" {
				s.promoteLocked(e)
				promoted++
				if e.Tier == TierPersistent {
					persistWrites = append(persistWrites, e)
				}
				continue
			}
			if e.DemotionScore <= cfg.DemoteAt {
				if tier == TierPersistent {
					persistDeletes = append(persistDeletes, key)
				}
				s.demoteLocked(e)
				demoted++
			}
		}
	}
	s.mu.Unlock()

	for _, e := range persistWrites {
		if err := s.persist(ctx, e); err != nil {
			s.logger.Warn("persistent memory write failed",
				zap.String("key", e.Key), zap.Error(err))
		}
	}
	for _, key := range persistDeletes {
		s.unpersist(ctx, key)
	}

	if expired+promoted+demoted > 0 {
		s.logger.Debug("memory maintenance pass",
			zap.Int("expired", expired),
			zap.Int("promoted", promoted),
			zap.Int("demoted", demoted))
	}
	s.tracer.RecordMetric("memory.maintenance.expired", float64(expired), nil)
	s.tracer.RecordMetric("memory.maintenance.promoted", float64(promoted), nil)
	s.tracer.RecordMetric("memory.maintenance.demoted", float64(demoted), nil)
}
