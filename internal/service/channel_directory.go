package service

import (
	"context"
	"strings"

	"github.com/alanyoungcy/sniperbot/internal/domain"
)

// ChannelDirectory resolves channel presets from static configuration.
// A reference matches a preset by ID, then by name, then by any of its
// match substrings; anything else gets the fallback preset.
type ChannelDirectory struct {
	presets  []domain.ChannelConfig
	fallback domain.ChannelConfig
}

// NewChannelDirectory creates a directory over presets. fallback is used for
// unmatched or empty references.
func NewChannelDirectory(presets []domain.ChannelConfig, fallback domain.ChannelConfig) *ChannelDirectory {
	cp := make([]domain.ChannelConfig, len(presets))
	copy(cp, presets)
	return &ChannelDirectory{presets: cp, fallback: fallback}
}

// Resolve implements domain.ChannelDirectory.
func (d *ChannelDirectory) Resolve(_ context.Context, ref string) (domain.ChannelConfig, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return d.fallback, nil
	}
	for _, p := range d.presets {
		if strings.ToLower(p.ID) == ref || strings.ToLower(p.Name) == ref {
			return p, nil
		}
	}
	for _, p := range d.presets {
		for _, m := range p.Match {
			if m != "" && strings.Contains(ref, strings.ToLower(m)) {
				return p, nil
			}
		}
	}
	return d.fallback, nil
}

var _ domain.ChannelDirectory = (*ChannelDirectory)(nil)
