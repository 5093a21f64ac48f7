package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"guardianpath/internal/config"
	"guardianpath/internal/metrics"
	"guardianpath/internal/model"
	"guardianpath/internal/normalize"
)

var ErrChannelFull = errors.New("event channel full")

// Sink normalizes parsed fields and forwards them to the monitor channel.
// The parser section of the config is read per event so reloads apply.
type Sink struct {
	Config   *config.Manager
	Resolver normalize.Resolver
	Out      chan<- model.AccessEvent
	Logger   *slog.Logger
}

func (s *Sink) Emit(ctx context.Context, fields normalize.EventFields, source string) error {
	ev, err := normalize.Normalize(fields, s.Resolver, s.Config.Get().Ingest.Parser, source)
	if err != nil {
		metrics.EventsDropped.WithLabelValues("normalize").Inc()
		if s.Logger != nil {
			s.Logger.Warn("normalize error", "source", source, "err", err)
		}
		return err
	}
	if !SendNonBlocking(ctx, s.Out, ev, s.Logger) {
		metrics.EventsDropped.WithLabelValues("channel_full").Inc()
		return ErrChannelFull
	}
	return nil
}

// emitLine parses and emits one raw record, ignoring blank lines and CSV
// headers.
func (s *Sink) emitLine(ctx context.Context, parser *Parser, line, source string) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	_ = s.Emit(ctx, *fields, source)
}

func SendNonBlocking(ctx context.Context, out chan<- model.AccessEvent, ev model.AccessEvent, logger *slog.Logger) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("event channel full, dropping event", "identity_id", ev.IdentityID, "timestamp", ev.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
