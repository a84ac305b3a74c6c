package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/orgsync/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// connectorCall is one operation applied to a single connector.
type connectorCall func(ctx context.Context, c Connector) error

// fanOut runs call against every connector concurrently and waits until all
// of them succeed, one fails, or the timeout elapses. Connector calls run on a
// context detached from ctx cancellation and are left to finish on their own
// when fanOut returns early. Calls not yet started by then are skipped.
func (e *Engine) fanOut(ctx context.Context, op string, call connectorCall) error {
	if len(e.connectors) == 0 {
		return nil
	}

	started := time.Now()
	metrics := telemetry.GetMetrics()
	attrs := metric.WithAttributes(attribute.String("operation", op))
	metrics.FanoutsTotal.Add(ctx, 1, attrs)
	defer func() {
		metrics.FanoutDuration.Record(ctx, float64(time.Since(started).Milliseconds()), attrs)
	}()

	logger := zerolog.Ctx(ctx).With().Str("operation", op).Logger()
	detached := context.WithoutCancel(ctx)

	var (
		mu     sync.Mutex
		errs   []error
		failed = make(chan struct{})
		once   sync.Once
		done   = make(chan struct{})
		stop   = make(chan struct{})
	)
	defer close(stop)

	// failed is closed before the failing task frees its slot, so a task
	// started in that slot always sees it
	halted := func() bool {
		select {
		case <-stop:
			return true
		case <-failed:
			return true
		default:
			return false
		}
	}

	g := new(errgroup.Group)
	g.SetLimit(e.maxParallel)

	// g.Go blocks once the limit is reached, so scheduling runs alongside the wait
	go func() {
		defer close(done)
		for _, c := range e.connectors {
			if halted() {
				break
			}
			g.Go(func() error {
				if halted() {
					logger.Debug().Str("connector", c.Name()).Msg("Connector call skipped")
					return nil
				}

				connectorStarted := time.Now()
				err := call(detached, c)
				if err == nil {
					logger.Debug().Str("connector", c.Name()).Dur("duration", time.Since(connectorStarted)).Msg("Connector call succeeded")
					return nil
				}

				cerr := &ConnectorError{Connector: c.Name(), Op: op, Err: err}
				metrics.ConnectorFailuresTotal.Add(detached, 1, metric.WithAttributes(
					attribute.String("operation", op),
					attribute.String("connector", c.Name()),
				))
				logger.Warn().Err(err).Str("connector", c.Name()).Msg("Connector call failed")

				mu.Lock()
				errs = append(errs, cerr)
				mu.Unlock()
				once.Do(func() { close(failed) })

				return cerr
			})
		}
		_ = g.Wait()
	}()

	timer := time.NewTimer(e.timeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-failed:
	case <-timer.C:
		metrics.FanoutTimeoutsTotal.Add(ctx, 1, attrs)
		metrics.FanoutFailuresTotal.Add(ctx, 1, attrs)
		logger.Warn().Dur("timeout", e.timeout).Msg("Fan-out deadline elapsed")
		return fmt.Errorf("%w after %s", ErrTimeout, e.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	mu.Lock()
	failures := slices.Clone(errs)
	mu.Unlock()

	if len(failures) == 0 {
		return nil
	}

	metrics.FanoutFailuresTotal.Add(ctx, 1, attrs)

	merr := multierror.Append(nil, failures...)
	merr.ErrorFormat = formatErrors
	return merr
}

func formatErrors(errs []error) string {
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}
