// Package sidecar runs the watch-and-reconcile loop.
//
// Events are handled strictly one at a time in arrival order: decode, expand,
// validate, reconcile, then the next event. For a given account the last
// processed event wins.
package sidecar

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/foxzi/acme-dns-sidecar/internal/credential"
	"github.com/foxzi/acme-dns-sidecar/internal/journal"
	"github.com/foxzi/acme-dns-sidecar/internal/metrics"
	"github.com/foxzi/acme-dns-sidecar/internal/watch"
)

// Gate blocks until the acme-dns database can be written
type Gate interface {
	Wait(ctx context.Context) error
}

// EventSource yields secret events
type EventSource interface {
	Next(ctx context.Context) (watch.Event, error)
}

// Reconciler writes one record into the acme-dns database
type Reconciler interface {
	Reconcile(ctx context.Context, rec credential.Record) error
}

// Journal records reconcile outcomes
type Journal interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Sidecar wires the pipeline stages together
type Sidecar struct {
	gate       Gate
	events     EventSource
	reconciler Reconciler
	journal    Journal
	logger     *slog.Logger

	ready atomic.Bool
}

// New creates a Sidecar. j may be nil.
func New(gate Gate, events EventSource, reconciler Reconciler, j Journal, logger *slog.Logger) *Sidecar {
	return &Sidecar{
		gate:       gate,
		events:     events,
		reconciler: reconciler,
		journal:    j,
		logger:     logger,
	}
}

// Ready reports whether the database is ready and the loop is running
func (s *Sidecar) Ready() bool {
	return s.ready.Load()
}

// Run waits for the database, then processes events until ctx is done or a
// secret carries data that cannot be decoded
func (s *Sidecar) Run(ctx context.Context) error {
	if err := s.gate.Wait(ctx); err != nil {
		return fmt.Errorf("database readiness: %w", err)
	}

	s.setReady(true)
	defer s.setReady(false)

	s.logger.Info("watching secrets")

	for {
		ev, err := s.events.Next(ctx)
		if err != nil {
			return err
		}
		if err := s.Process(ctx, ev); err != nil {
			return err
		}
	}
}

func (s *Sidecar) setReady(ready bool) {
	s.ready.Store(ready)
	metrics.SetReady(ready)
}

// Process handles a single secret event. Rejected records and database
// errors are logged and dropped; only a decode failure is returned.
func (s *Sidecar) Process(ctx context.Context, ev watch.Event) error {
	logger := s.logger.With("secret", ev.Name)

	fields, err := credential.Decode(ev.Data)
	if err != nil {
		return fmt.Errorf("secret %s: %w", ev.Name, err)
	}

	exp := credential.Expand(fields)
	logger.Debug("secret received", "type", ev.Type, "bundle", exp.Bundle, "candidates", len(exp.Candidates))

	for _, d := range exp.Defects {
		s.reject(ctx, logger, ev.Name, d.Entry, d.Reason)
	}

	for _, c := range exp.Candidates {
		s.reconcile(ctx, logger, ev.Name, c)
	}

	return nil
}

func (s *Sidecar) reconcile(ctx context.Context, logger *slog.Logger, secret string, c credential.Candidate) {
	rec, err := credential.Validate(c.Fields)
	if err != nil {
		s.reject(ctx, logger, secret, c.Entry, err.Error())
		return
	}

	start := time.Now()
	err = s.reconciler.Reconcile(ctx, rec)
	metrics.ObserveReconcileDuration(time.Since(start))

	entry := journal.Entry{
		Secret:    secret,
		Entry:     c.Entry,
		Username:  rec.Username.String(),
		Subdomain: rec.Subdomain,
	}

	if err != nil {
		logger.Error("database error", "entry", c.Entry, "record", rec, "error", err)
		metrics.IncRecords(metrics.OutcomeFailed)
		entry.Outcome = metrics.OutcomeFailed
		entry.Reason = err.Error()
		s.record(ctx, logger, entry)
		return
	}

	logger.Info("registered", "entry", c.Entry, "record", rec)
	metrics.IncRecords(metrics.OutcomeRegistered)
	entry.Outcome = metrics.OutcomeRegistered
	s.record(ctx, logger, entry)
}

func (s *Sidecar) reject(ctx context.Context, logger *slog.Logger, secret, entry, reason string) {
	logger.Warn("invalid secret", "entry", entry, "reason", reason)
	metrics.IncRecords(metrics.OutcomeRejected)
	s.record(ctx, logger, journal.Entry{
		Secret:  secret,
		Entry:   entry,
		Outcome: metrics.OutcomeRejected,
		Reason:  reason,
	})
}

func (s *Sidecar) record(ctx context.Context, logger *slog.Logger, e journal.Entry) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, e); err != nil {
		logger.Warn("failed to write journal entry", "error", err)
	}
}
