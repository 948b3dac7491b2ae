package broadcaster

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stockbook/infra/outbox"
)

// Publisher delivers one message to the broker.
type Publisher interface {
	Publish(ctx context.Context, key, value []byte) error
}

const defaultInterval = 250 * time.Millisecond

// KeyFunc derives the broker key from an outbox payload.
type KeyFunc func(payload []byte) []byte

// Broadcaster drains NEW and FAILED outbox records into a Publisher.
type Broadcaster struct {
	outbox    *outbox.Outbox
	publisher Publisher
	key       KeyFunc
	interval  time.Duration
	log       *zap.Logger
}

func New(
	ob *outbox.Outbox,
	publisher Publisher,
	key KeyFunc,
	interval time.Duration,
	log *zap.Logger,
) *Broadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if key == nil {
		key = func([]byte) []byte { return nil }
	}
	return &Broadcaster{
		outbox:    ob,
		publisher: publisher,
		key:       key,
		interval:  interval,
		log:       log.Named("broadcaster"),
	}
}

// Run ticks until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	b.log.Info("started", zap.Duration("interval", b.interval))
	if n, err := b.Recover(); err != nil {
		b.log.Warn("recover failed", zap.Error(err))
	} else if n > 0 {
		b.log.Info("requeued interrupted sends", zap.Int("count", n))
	}

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("stopped")
			return
		case <-ticker.C:
			if _, err := b.ReplayOnce(ctx); err != nil {
				b.log.Warn("replay failed", zap.Error(err))
			}
		}
	}
}

// Recover requeues records left SENT by a process that stopped between
// publishing and recording the acknowledgement. It must run before the
// first ReplayOnce.
func (b *Broadcaster) Recover() (int, error) {
	var seqs []uint64
	err := b.outbox.Scan(func(rec outbox.Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}, outbox.StateSent)
	if err != nil {
		return 0, err
	}
	for _, seq := range seqs {
		if err := b.outbox.MarkFailed(seq); err != nil {
			return 0, err
		}
	}
	return len(seqs), nil
}

// ReplayOnce publishes every pending record once and prunes acknowledged
// ones. It returns the number of records acknowledged in this pass.
func (b *Broadcaster) ReplayOnce(ctx context.Context) (int, error) {
	acked := 0
	err := b.outbox.Scan(func(rec outbox.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := b.outbox.MarkSent(rec.Seq); err != nil {
			return err
		}

		if err := b.publisher.Publish(ctx, b.key(rec.Payload), rec.Payload); err != nil {
			b.log.Debug("publish failed",
				zap.Uint64("seq", rec.Seq),
				zap.Uint32("retries", rec.Retries),
				zap.Error(err),
			)
			// Retried on the next tick.
			return b.outbox.MarkFailed(rec.Seq)
		}

		acked++
		return b.outbox.MarkAcked(rec.Seq)
	}, outbox.StateNew, outbox.StateFailed)
	if err != nil {
		return acked, err
	}

	if _, err := b.outbox.PruneAcked(); err != nil {
		return acked, err
	}
	return acked, nil
}
