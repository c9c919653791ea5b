package funnel

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"funneltrace/api/logger"
	"funneltrace/api/metrics"
	"funneltrace/api/models"
	"funneltrace/api/store"
)

var ErrNoSteps = errors.New("funnel has no steps")

// Engine computes path statistics and step metrics for stored funnels.
//
// Step visitors, dropoff and the funnel conversion rate are also cached on
// the funnel rows. Persist is the only writer of that cache and nothing
// invalidates it; Live always recomputes from events.
type Engine struct {
	sessionizer *Sessionizer
	funnels     store.FunnelStore
}

func NewEngine(events store.EventStore, funnels store.FunnelStore) *Engine {
	return &Engine{
		sessionizer: NewSessionizer(events),
		funnels:     funnels,
	}
}

// PathStats reports transitions, entry and exit points and per-step visits
// for every session that reached at least one step of the funnel.
func (e *Engine) PathStats(ctx context.Context, funnelID string, r DateRange) (*models.FunnelPaths, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FunnelComputeDuration, "paths")

	if _, err := e.funnels.GetFunnel(ctx, funnelID); err != nil {
		return nil, err
	}
	paths, err := e.sessionizer.Paths(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	return BuildPathStats(funnelID, paths), nil
}

// BuildPathStats tallies literal adjacent pairs, so a path that revisits an
// earlier step counts the backward transition too.
func BuildPathStats(funnelID string, paths []SessionPath) *models.FunnelPaths {
	out := &models.FunnelPaths{
		FunnelID:      funnelID,
		HasData:       len(paths) > 0,
		TotalSessions: len(paths),
		Transitions:   []models.Transition{},
		StepVisits:    map[string]int{},
		EntryPoints:   map[string]int{},
		ExitPoints:    map[string]int{},
	}

	type pair struct{ from, to string }
	counts := map[pair]int{}
	for _, p := range paths {
		out.EntryPoints[p.Steps[0]]++
		out.ExitPoints[p.Steps[len(p.Steps)-1]]++

		seen := map[string]bool{}
		for i, step := range p.Steps {
			if !seen[step] {
				seen[step] = true
				out.StepVisits[step]++
			}
			if i > 0 {
				counts[pair{p.Steps[i-1], step}]++
			}
		}
	}

	for k, c := range counts {
		out.Transitions = append(out.Transitions, models.Transition{
			From:       k.from,
			To:         k.to,
			Count:      c,
			Percentage: percent(c, out.TotalSessions),
		})
	}
	slices.SortFunc(out.Transitions, func(a, b models.Transition) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		if c := cmp.Compare(a.From, b.From); c != 0 {
			return c
		}
		return cmp.Compare(a.To, b.To)
	})
	return out
}

// ComputeStepMetrics walks the declared steps in position order. Dropoff is
// measured against the previous declared step and clamped at zero; the
// conversion rate compares the last declared step to the first.
func ComputeStepMetrics(steps []models.FunnelStep, paths []SessionPath) ([]models.StepMetric, float64) {
	ordered := slices.Clone(steps)
	slices.SortStableFunc(ordered, func(a, b models.FunnelStep) int {
		return cmp.Compare(a.Position, b.Position)
	})

	visits := BuildPathStats("", paths).StepVisits

	out := make([]models.StepMetric, len(ordered))
	for i, st := range ordered {
		m := models.StepMetric{
			StepID:   st.ID,
			Name:     st.Name,
			Position: st.Position,
			Visitors: visits[st.Name],
		}
		if i > 0 {
			m.Dropoff = dropoff(out[i-1].Visitors, m.Visitors)
		}
		out[i] = m
	}

	var conversion float64
	if len(out) > 0 {
		conversion = percent(out[len(out)-1].Visitors, out[0].Visitors)
	}
	return out, conversion
}

// Live computes step metrics without writing anything.
func (e *Engine) Live(ctx context.Context, funnelID string, r DateRange) (*models.FunnelMetrics, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FunnelComputeDuration, "live")

	return e.compute(ctx, funnelID, r)
}

// Persist computes step metrics and stores them as the funnel's cached
// visitors, dropoff and conversion rate.
func (e *Engine) Persist(ctx context.Context, funnelID string, r DateRange) (*models.FunnelMetrics, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.FunnelComputeDuration, "persisted")

	res, err := e.compute(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	if err := e.funnels.SaveStepMetrics(ctx, funnelID, res.Steps, res.ConversionRate); err != nil {
		return nil, fmt.Errorf("failed to save funnel metrics: %w", err)
	}
	res.Persisted = true

	log := logger.WithFunnelID(funnelID)
	log.Info().
		Int("sessions", res.TotalSessions).
		Float64("conversion_rate", res.ConversionRate).
		Msg("funnel metrics persisted")
	return res, nil
}

func (e *Engine) compute(ctx context.Context, funnelID string, r DateRange) (*models.FunnelMetrics, error) {
	f, err := e.funnels.GetFunnel(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	steps, err := e.funnels.GetSteps(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	paths, err := e.sessionizer.Paths(ctx, funnelID, r)
	if err != nil {
		return nil, err
	}
	stepMetrics, conversion := ComputeStepMetrics(steps, paths)

	return &models.FunnelMetrics{
		FunnelID:       f.ID,
		Name:           f.Name,
		HasData:        len(paths) > 0,
		TotalSessions:  len(paths),
		ConversionRate: conversion,
		Steps:          stepMetrics,
	}, nil
}

func percent(n, d int) float64 {
	if d <= 0 {
		return 0
	}
	return float64(n) / float64(d) * 100
}

func dropoff(prev, cur int) float64 {
	if prev <= 0 || cur >= prev {
		return 0
	}
	return float64(prev-cur) / float64(prev) * 100
}
