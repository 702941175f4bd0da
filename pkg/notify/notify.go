package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethpandaops/runkeeper/pkg/api/store"
	"github.com/ethpandaops/runkeeper/pkg/config"
	"github.com/ethpandaops/runkeeper/pkg/execution"
	"github.com/ethpandaops/runkeeper/pkg/metrics"
	"github.com/sirupsen/logrus"
)

// ErrNoRecipients is returned when dispatching a digest nobody may receive.
var ErrNoRecipients = errors.New("digest has no eligible recipients")

// Sink delivers or archives a completion digest.
type Sink interface {
	Name() string
	Send(ctx context.Context, digest *execution.Digest) error
}

// Dispatcher prepares completion digests and fans them out to sinks.
type Dispatcher struct {
	log      logrus.FieldLogger
	resolver RecipientResolver
	sinks    []Sink
	metrics  *metrics.Metrics
}

// Ensure interface compliance.
var _ execution.Notifier = (*Dispatcher)(nil)

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(
	log logrus.FieldLogger,
	resolver RecipientResolver,
	m *metrics.Metrics,
	sinks ...Sink,
) *Dispatcher {
	return &Dispatcher{
		log:      log.WithField("component", "notify"),
		resolver: resolver,
		sinks:    sinks,
		metrics:  m,
	}
}

// NewFromConfig builds a Dispatcher with the store-backed resolver and the
// sinks enabled in cfg.
func NewFromConfig(
	log logrus.FieldLogger,
	cfg *config.NotificationsConfig,
	st store.Store,
	m *metrics.Metrics,
) *Dispatcher {
	sinks := make([]Sink, 0, 2)

	if cfg.Log {
		sinks = append(sinks, NewLogSink(log))
	}

	if cfg.S3 != nil && cfg.S3.Enabled {
		sinks = append(sinks, NewS3Sink(log, cfg.S3))
	}

	return NewDispatcher(log, NewStoreResolver(st, cfg.Recipients), m, sinks...)
}

// Prepare assembles the digest of a completed run, including the
// addresses it may be delivered to.
func (d *Dispatcher) Prepare(
	ctx context.Context, run *store.Run, stats execution.Stats,
) (*execution.Digest, error) {
	recipients, err := d.resolver.Resolve(ctx, run)
	if err != nil {
		return nil, fmt.Errorf("resolving recipients: %w", err)
	}

	return &execution.Digest{
		RunID:         run.ID,
		ProjectID:     run.ProjectID,
		RunName:       run.Name,
		ExecutionType: run.ExecutionType,
		Environment:   run.Environment,
		StartedAt:     run.StartedAt,
		CompletedAt:   run.CompletedAt,
		Stats:         stats,
		Recipients:    recipients,
	}, nil
}

// Dispatch hands the digest to every sink. A failing sink does not stop
// the others; their errors are joined.
func (d *Dispatcher) Dispatch(ctx context.Context, digest *execution.Digest) error {
	if !digest.Eligible() {
		return ErrNoRecipients
	}

	var errs []error

	for _, sink := range d.sinks {
		err := sink.Send(ctx, digest)
		d.metrics.DigestDispatched(sink.Name(), err)

		if err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"sink":   sink.Name(),
				"run_id": digest.RunID,
			}).Warn("Failed to dispatch digest")

			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}

	return errors.Join(errs...)
}
