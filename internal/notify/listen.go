package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// Listen consumes prompts published by PGNotifier and hands each to fn until
// ctx is done. Payloads that do not decode are logged and dropped.
func Listen(ctx context.Context, dsn, channel string, log *zap.Logger, fn func(Prompt)) error {
	if log == nil {
		log = zap.NewNop()
	}
	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("listener event", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	defer l.Close()

	if err := l.Listen(channel); err != nil {
		return fmt.Errorf("listen %s: %w", channel, err)
	}
	log.Info("listening", zap.String("channel", channel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-l.Notify:
			if n == nil {
				// connection was re-established; notifications may have been missed
				continue
			}
			p, err := DecodePrompt(n.Extra)
			if err != nil {
				log.Warn("bad notification payload", zap.String("channel", n.Channel), zap.Error(err))
				continue
			}
			fn(p)
		case <-ping.C:
			if err := l.Ping(); err != nil {
				log.Warn("listener ping failed", zap.Error(err))
			}
		}
	}
}

func DecodePrompt(payload string) (Prompt, error) {
	var p Prompt
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return Prompt{}, err
	}
	if p.CheckInID == "" {
		return Prompt{}, errors.New("missing checkin_id")
	}
	return p, nil
}
