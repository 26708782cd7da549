package profile

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type NotifierConfig struct {
	QueueSize int
	Attempts  int
	Backoff   time.Duration // first retry delay, doubled per attempt
}

// Notifier delivers match records to sinks from a single background worker.
// Publish never blocks the caller.
type Notifier struct {
	queue chan MatchRecord
	sinks []Sink
	cfg   NotifierConfig
	log   *zap.Logger
}

func NewNotifier(cfg NotifierConfig, log *zap.Logger, sinks ...Sink) *Notifier {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{
		queue: make(chan MatchRecord, cfg.QueueSize),
		sinks: sinks,
		cfg:   cfg,
		log:   log.Named("notifier"),
	}
}

func (n *Notifier) Publish(m MatchRecord) {
	select {
	case n.queue <- m:
	default:
		n.log.Error("persistence queue full, dropping match",
			zap.String("match", m.Key()),
			zap.String("host", m.Host.Player.UserID),
			zap.String("guest", m.Guest.Player.UserID))
	}
}

// Run drains the queue until ctx is done, then flushes what is already
// queued with a short deadline.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case m := <-n.queue:
			n.deliver(ctx, m)
		case <-ctx.Done():
			n.drain()
			return nil
		}
	}
}

func (n *Notifier) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case m := <-n.queue:
			n.deliver(ctx, m)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, m MatchRecord) {
	var errs error
	for _, sink := range n.sinks {
		if err := n.retry(ctx, sink, m); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		n.log.Error("match not fully persisted",
			zap.String("match", m.Key()),
			zap.Errors("errors", multierr.Errors(errs)))
		return
	}
	n.log.Debug("match persisted", zap.String("match", m.Key()), zap.Int("sinks", len(n.sinks)))
}

func (n *Notifier) retry(ctx context.Context, sink Sink, m MatchRecord) error {
	delay := n.cfg.Backoff
	var err error
	for attempt := 1; attempt <= n.cfg.Attempts; attempt++ {
		if err = sink.Record(ctx, m); err == nil {
			return nil
		}
		n.log.Warn("sink write failed",
			zap.String("sink", sink.Name()),
			zap.String("match", m.Key()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt == n.cfg.Attempts {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return multierr.Append(err, ctx.Err())
		}
		delay *= 2
	}
	return err
}

// LogSink records matches to the log only. It is the sink of last resort
// when no store is configured.
type LogSink struct {
	Log *zap.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Record(_ context.Context, m MatchRecord) error {
	s.Log.Info("match resolved",
		zap.String("match", m.Key()),
		zap.String("host", m.Host.Player.UserID),
		zap.String("hostChoice", string(m.Host.Choice)),
		zap.Int("hostPoints", m.Host.Points),
		zap.String("guest", m.Guest.Player.UserID),
		zap.String("guestChoice", string(m.Guest.Choice)),
		zap.Int("guestPoints", m.Guest.Points))
	return nil
}
