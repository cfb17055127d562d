package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/pass-ticketing/internal/common"
	"github.com/noah-isme/pass-ticketing/internal/store"
)

const (
	keyEvents      = "catalog:events"
	keyEventPrefix = "catalog:event:"
)

type Store interface {
	ListPasses(ctx context.Context) ([]store.Pass, error)
	ListActiveEvents(ctx context.Context) ([]store.Event, error)
	GetEvent(ctx context.Context, id string) (store.Event, error)
}

// Service serves passes and events. Events are cached; passes are not, since
// their stock moves with every confirmed payment.
type Service struct {
	store  Store
	cache  *Cache
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Cache  *Cache
	Logger zerolog.Logger
	Now    func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{store: cfg.Store, cache: cfg.Cache, logger: cfg.Logger, now: now}, nil
}

// EventDetail is an event together with the time left until it starts.
type EventDetail struct {
	Event       store.Event `json:"event"`
	CountdownMS *int64      `json:"countdown_ms"`
}

// ListPasses returns all passes, most expensive first.
func (s *Service) ListPasses(ctx context.Context) ([]store.Pass, error) {
	passes, err := s.store.ListPasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	if passes == nil {
		passes = []store.Pass{}
	}
	return passes, nil
}

// ListEvents returns active events ordered by start date.
func (s *Service) ListEvents(ctx context.Context) ([]store.Event, error) {
	var cached []store.Event
	if ok, err := s.cache.GetJSON(ctx, keyEvents, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("key", keyEvents).Msg("catalog cache read failed")
	}
	events, err := s.store.ListActiveEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if events == nil {
		events = []store.Event{}
	}
	if err := s.cache.SetJSON(ctx, keyEvents, events); err != nil {
		s.logger.Warn().Err(err).Str("key", keyEvents).Msg("catalog cache write failed")
	}
	return events, nil
}

// GetEvent returns one event with its countdown in milliseconds, floored at zero.
// The countdown is nil when the event has no start date.
func (s *Service) GetEvent(ctx context.Context, id string) (EventDetail, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return EventDetail{}, common.BadRequest("BAD_REQUEST", "event id is required", nil)
	}
	key := keyEventPrefix + id
	var event store.Event
	ok, err := s.cache.GetJSON(ctx, key, &event)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if !ok {
		event, err = s.store.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return EventDetail{}, common.NotFound("EVENT_NOT_FOUND", "Event not found")
			}
			return EventDetail{}, fmt.Errorf("get event: %w", err)
		}
		if err := s.cache.SetJSON(ctx, key, event); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
		}
	}
	return EventDetail{Event: event, CountdownMS: Countdown(event.StartDate, s.now())}, nil
}

// Countdown is the time from now until start in milliseconds, floored at zero.
func Countdown(start *time.Time, now time.Time) *int64 {
	if start == nil {
		return nil
	}
	ms := start.Sub(now).Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return &ms
}
