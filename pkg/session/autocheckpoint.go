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

package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// startAutoCheckpoint runs a per-session ticker that checkpoints with
// reason "auto" at the configured interval. Ticks that fire while the
// session is not active are skipped, never queued.
func (m *Manager) startAutoCheckpoint(s *Session) {
	s.mu.Lock()
	if s.stopAuto != nil {
		s.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	s.stopAuto = stop
	interval := s.Config.CheckpointInterval
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.mu.Lock()
				if s.Status != StatusActive {
					s.mu.Unlock()
					continue
				}
				_, err := m.checkpointLocked(context.Background(), s, "auto", nil)
				s.mu.Unlock()
				if err != nil {
					m.logger.Warn("auto checkpoint failed",
						zap.String("session_id", s.ID), zap.Error(err))
				}
			}
		}
	}()
}

// stopAutoCheckpoint stops the session's ticker if one is running.
func (m *Manager) stopAutoCheckpoint(s *Session) {
	s.mu.Lock()
	stop := s.stopAuto
	s.stopAuto = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}
