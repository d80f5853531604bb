package channel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// ErrChannelConfigNotFound is returned when a channel type has no config.
var ErrChannelConfigNotFound = errors.New("channel config not found")

// StaticStore holds one config per channel type, seeded from the process
// configuration. Only the disabled flag changes at runtime.
type StaticStore struct {
	mu      sync.RWMutex
	configs map[ChannelType]ChannelConfig
	now     func() time.Time
}

// NewStaticStore seeds the store. A config without an ID is keyed by its channel type.
func NewStaticStore(configs ...ChannelConfig) *StaticStore {
	s := &StaticStore{configs: map[ChannelType]ChannelConfig{}, now: time.Now}
	for _, cfg := range configs {
		cfg.Type = ParseChannelType(cfg.Type.String())
		if cfg.Type == "" {
			continue
		}
		if strings.TrimSpace(cfg.ID) == "" {
			cfg.ID = cfg.Type.String()
		}
		if cfg.UpdatedAt.IsZero() {
			cfg.UpdatedAt = s.now().UTC()
		}
		s.configs[cfg.Type] = cfg
	}
	return s
}

// Configs lists every config ordered by channel type.
func (s *StaticStore) Configs(context.Context) ([]ChannelConfig, error) {
	s.mu.RLock()
	out := make([]ChannelConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b ChannelConfig) int {
		return strings.Compare(a.Type.String(), b.Type.String())
	})
	return out, nil
}

func (s *StaticStore) Get(_ context.Context, ct ChannelType) (ChannelConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[ParseChannelType(ct.String())]
	if !ok {
		return ChannelConfig{}, fmt.Errorf("%w: %s", ErrChannelConfigNotFound, ct)
	}
	return cfg, nil
}

// SetDisabled sets the flag and bumps UpdatedAt, which makes the manager redial.
func (s *StaticStore) SetDisabled(_ context.Context, ct ChannelType, disabled bool) (ChannelConfig, error) {
	ct = ParseChannelType(ct.String())
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[ct]
	if !ok {
		return ChannelConfig{}, fmt.Errorf("%w: %s", ErrChannelConfigNotFound, ct)
	}
	cfg.Disabled = disabled
	cfg.UpdatedAt = s.now().UTC()
	s.configs[ct] = cfg
	return cfg, nil
}
