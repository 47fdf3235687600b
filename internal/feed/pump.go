// README: Reconnecting subscription loop shared by the network-backed buses.
package feed

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// listener is one live subscription on a transport.
type listener interface {
	// Wait blocks until the next notification arrives or the connection fails.
	Wait(ctx context.Context) error
	Close()
}

type dialFunc func(ctx context.Context) (listener, error)

// pump keeps a subscription alive until ctx is done. Every successful
// (re)connect emits one synthetic notification so consumers reconcile
// whatever they missed while disconnected.
func pump(ctx context.Context, topic Topic, log logrus.FieldLogger, dial dialFunc) <-chan Notification {
	ch := make(chan Notification, 1)
	log = log.WithField("topic", topic)

	go func() {
		defer close(ch)
		backoff := minBackoff
		for {
			l, err := dial(ctx)
			if err == nil {
				backoff = minBackoff
				offer(ch, Notification{Topic: topic, At: time.Now()})
				for {
					if err = l.Wait(ctx); err != nil {
						break
					}
					offer(ch, Notification{Topic: topic, At: time.Now()})
				}
				l.Close()
			}
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).WithField("retry_in", backoff.String()).Warn("feed subscription lost")

			var ok bool
			if backoff, ok = sleepBackoff(ctx, backoff); !ok {
				return
			}
		}
	}()
	return ch
}
