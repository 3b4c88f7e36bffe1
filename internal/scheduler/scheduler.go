// Package scheduler turns declarative schedule rules into concrete PENDING
// searches. It evaluates cron expressions on a fixed tick and also exposes the
// manual run-now path used by the CLI and the ops surface.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"rateshopper/config"
	"rateshopper/internal/catalog"
	"rateshopper/internal/model"
	"rateshopper/internal/store"
)

// Scheduler materializes searches from schedule rules.
type Scheduler struct {
	cfg     config.SchedulerConfig
	store   store.Store
	catalog *catalog.Catalog
	log     *logrus.Logger
}

func New(cfg config.SchedulerConfig, s store.Store, cat *catalog.Catalog, log *logrus.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, store: s, catalog: cat, log: log}
}

// ValidateRule checks a rule's cron expression and timezone. Invalid rules
// are rejected here, at load time, never at fire time.
func ValidateRule(rule *model.ScheduleRule) error {
	if _, err := cron.ParseStandard(rule.CronExpr); err != nil {
		return fmt.Errorf("rule %q has invalid cron expression %q: %w", rule.Name, rule.CronExpr, err)
	}
	if _, err := time.LoadLocation(rule.Timezone); err != nil {
		return fmt.Errorf("rule %q has invalid timezone %q: %w", rule.Name, rule.Timezone, err)
	}
	return nil
}

// Run evaluates rules until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return
	}
	s.log.WithField("tick", s.cfg.Tick).Info("scheduler started")

	prev := time.Now()
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case now := <-ticker.C:
			s.Tick(ctx, prev, now)
			prev = now
		}
	}
}

// Tick fires every enabled rule whose cron schedule has a trigger time inside
// (prev, now]. Exposed with explicit bounds so tests drive it directly.
func (s *Scheduler) Tick(ctx context.Context, prev, now time.Time) {
	rules, err := s.store.EnabledRules(ctx)
	if err != nil {
		s.log.WithError(err).Error("scheduler: failed to load rules")
		return
	}

	for i := range rules {
		rule := &rules[i]
		if err := ValidateRule(rule); err != nil {
			s.log.WithError(err).WithField("rule", rule.Name).Error("scheduler: skipping invalid rule")
			continue
		}
		if !ruleDue(rule, prev, now) {
			continue
		}
		s.log.WithField("rule", rule.Name).Info("scheduler: rule due, materializing searches")
		s.fireRule(ctx, rule)
	}
}

// ruleDue reports whether the rule's schedule triggers in (prev, now],
// evaluated in the rule's own timezone.
func ruleDue(rule *model.ScheduleRule, prev, now time.Time) bool {
	sched, err := cron.ParseStandard(rule.CronExpr)
	if err != nil {
		return false
	}
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		return false
	}
	next := sched.Next(prev.In(loc))
	return !next.After(now.In(loc))
}

// fireRule materializes one search per targeted hotel. Duplicate suppression
// lives in the store: a scope that already has a PENDING or RUNNING search is
// left alone, so double-firing cannot storm the queue.
func (s *Scheduler) fireRule(ctx context.Context, rule *model.ScheduleRule) {
	hotels, err := s.resolveHotels(ctx, rule)
	if err != nil {
		s.log.WithError(err).WithField("rule", rule.Name).Error("scheduler: failed to resolve rule targets")
		return
	}

	for _, hotelID := range hotels {
		created, err := s.Materialize(ctx, hotelID, rule.PropertyID, rule.WindowDays)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"rule":     rule.Name,
				"hotel_id": hotelID,
			}).Error("scheduler: failed to create search")
			continue
		}
		if created {
			s.log.WithFields(logrus.Fields{
				"rule":     rule.Name,
				"hotel_id": hotelID,
			}).Info("scheduler: search created")
		}
	}
}

func (s *Scheduler) resolveHotels(ctx context.Context, rule *model.ScheduleRule) ([]uint64, error) {
	if rule.HotelID != nil {
		return []uint64{*rule.HotelID}, nil
	}
	return s.catalog.Hotels(ctx)
}

// Materialize creates one PENDING search for the given scope unless an
// equivalent open search exists. This is also the manual run-now path: the
// CLI calls it directly, bypassing cron. Returns whether a search was created.
func (s *Scheduler) Materialize(ctx context.Context, hotelID uint64, propertyID *uint64, windowDays int) (bool, error) {
	if windowDays <= 0 {
		windowDays = s.cfg.DefaultWindowDays
	}

	props, err := s.catalog.ActiveProperties(ctx, hotelID)
	if err != nil {
		return false, err
	}
	targets := len(props)
	if propertyID != nil {
		targets = 0
		for _, p := range props {
			if p.ID == *propertyID {
				targets = 1
				break
			}
		}
	}
	if targets == 0 {
		s.log.WithField("hotel_id", hotelID).Debug("scheduler: no active targets, skipping")
		return false, nil
	}

	// The window starts tomorrow: today's rates churn with arrival-day
	// discounting and are not comparable across captures.
	start := nextDay(time.Now().UTC())
	search := &model.Search{
		HotelID:    hotelID,
		PropertyID: propertyID,
		StartDate:  start,
		EndDate:    start.AddDate(0, 0, windowDays),
		TotalDates: targets * windowDays,
	}
	return s.store.CreateSearchIfAbsent(ctx, search)
}

func nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
