// Copyright 2026 Tudor Baraboi
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package quota enforces per-user daily turn limits.
package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tudor-baraboi/cfr-agents/pkg/config"
)

// ErrExhausted is returned when a fingerprint has no turns left today.
var ErrExhausted = errors.New("daily turn quota exhausted")

// Status reports a fingerprint's quota position. It is serialized
// verbatim into quota_update frames, so field names are wire names.
type Status struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Service meters turn starts per fingerprint.
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Consume records one turn start and returns the updated status.
	// Returns ErrExhausted (with the current status) when the
	// fingerprint is out of turns; the turn must not run.
	Consume(ctx context.Context, fingerprint string) (Status, error)

	// Status returns the current position without consuming.
	Status(ctx context.Context, fingerprint string) (Status, error)
}

type usageKey struct {
	Fingerprint string
	Day         string // UTC date, YYYY-MM-DD
}

// MemoryService is an in-memory quota counter with UTC-midnight reset.
// Suitable for single-instance deployments; counters are lost on
// restart, which errs in the user's favor.
type MemoryService struct {
	limit         int
	warnRemaining int

	mu   sync.Mutex
	data map[usageKey]int
	now  func() time.Time
}

// NewMemoryService creates a counter from quota config.
func NewMemoryService(cfg config.QuotaConfig) *MemoryService {
	return &MemoryService{
		limit:         cfg.DailyTurns,
		warnRemaining: cfg.WarnRemaining,
		data:          make(map[usageKey]int),
		now:           time.Now,
	}
}

var _ Service = (*MemoryService)(nil)

// Consume records one turn start.
func (s *MemoryService) Consume(ctx context.Context, fingerprint string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.keyFor(fingerprint)
	used := s.data[key]

	if used >= s.limit {
		return s.statusLocked(used), ErrExhausted
	}

	used++
	s.data[key] = used

	// Drop yesterday's counters opportunistically.
	s.sweepLocked(key.Day)

	return s.statusLocked(used), nil
}

// Status returns the current position without consuming.
func (s *MemoryService) Status(ctx context.Context, fingerprint string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked(s.data[s.keyFor(fingerprint)]), nil
}

// ShouldWarn reports whether remaining turns are at or below the
// configured warning threshold.
func (s *MemoryService) ShouldWarn(st Status) bool {
	return st.Remaining <= s.warnRemaining
}

func (s *MemoryService) keyFor(fingerprint string) usageKey {
	return usageKey{
		Fingerprint: fingerprint,
		Day:         s.now().UTC().Format("2006-01-02"),
	}
}

func (s *MemoryService) statusLocked(used int) Status {
	remaining := s.limit - used
	if remaining < 0 {
		remaining = 0
	}
	midnight := s.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return Status{
		Used:      used,
		Limit:     s.limit,
		Remaining: remaining,
		ResetsAt:  midnight,
	}
}

func (s *MemoryService) sweepLocked(today string) {
	for key := range s.data {
		if key.Day != today {
			delete(s.data, key)
		}
	}
}

// Unlimited is a Service that never exhausts. Used when quota
// enforcement is disabled.
type Unlimited struct{}

var _ Service = Unlimited{}

func (Unlimited) Consume(ctx context.Context, fingerprint string) (Status, error) {
	return Status{Limit: -1, Remaining: -1}, nil
}

func (Unlimited) Status(ctx context.Context, fingerprint string) (Status, error) {
	return Status{Limit: -1, Remaining: -1}, nil
}

// NewService builds the Service selected by config.
func NewService(cfg config.QuotaConfig) Service {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return Unlimited{}
	}
	return NewMemoryService(cfg)
}
