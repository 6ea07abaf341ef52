package mutes

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSettings = errors.New("invalid mute settings")

type Duration string

const (
	DurationForever Duration = "forever"
	Duration24h     Duration = "24h"
	Duration7d      Duration = "7d"
	Duration30d     Duration = "30d"
)

type Scope string

const (
	ScopeTextAndTags Scope = "text-and-tags"
	ScopeTagsOnly    Scope = "tags-only"
)

// Settings applies to every muted word this service writes.
type Settings struct {
	Duration       Duration `json:"duration"`
	Scope          Scope    `json:"scope"`
	ExcludeFollows bool     `json:"excludeFollows"`
}

func DefaultSettings() Settings {
	return Settings{Duration: DurationForever, Scope: ScopeTextAndTags}
}

func (s Settings) Validate() error {
	switch s.Duration {
	case DurationForever, Duration24h, Duration7d, Duration30d:
	default:
		return fmt.Errorf("%w: duration %q", ErrInvalidSettings, s.Duration)
	}
	switch s.Scope {
	case ScopeTextAndTags, ScopeTagsOnly:
	default:
		return fmt.Errorf("%w: scope %q", ErrInvalidSettings, s.Scope)
	}
	return nil
}

// Expiry is nil for words that never expire.
func (s Settings) Expiry(now time.Time) *time.Time {
	var d time.Duration
	switch s.Duration {
	case Duration24h:
		d = 24 * time.Hour
	case Duration7d:
		d = 7 * 24 * time.Hour
	case Duration30d:
		d = 30 * 24 * time.Hour
	default:
		return nil
	}
	at := now.UTC().Add(d).Truncate(time.Second)
	return &at
}

func (s Settings) targets() []string {
	if s.Scope == ScopeTagsOnly {
		return []string{TargetTag}
	}
	return []string{TargetContent, TargetTag}
}

func (s Settings) actorTarget() string {
	if s.ExcludeFollows {
		return ActorTargetExcludeFollowing
	}
	return ActorTargetAll
}
