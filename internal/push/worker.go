// Package push drains the offline-notification queue. The actual mobile
// push gateway is out of scope; the worker hands each notification to a
// pluggable Notifier, defaulting to a logging one.
package push

import (
	"context"
	"encoding/json"
	"log/slog"

	"comm_core/internal/broker"
)

// Notifier delivers a notification to a user through an out-of-band channel.
type Notifier interface {
	Notify(ctx context.Context, n broker.PushNotification) error
}

// LogNotifier records pending pushes in the log. Stands in until a real
// gateway (APNs/FCM) is wired behind the Notifier interface.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n broker.PushNotification) error {
	l.Log.Info("push pending",
		slog.Int64("user_id", n.UserID),
		slog.String("event", n.Event))
	return nil
}

type Worker struct {
	broker   *broker.Client
	notifier Notifier
	log      *slog.Logger
}

func NewWorker(b *broker.Client, notifier Notifier, log *slog.Logger) *Worker {
	return &Worker{broker: b, notifier: notifier, log: log}
}

func (w *Worker) Start(ctx context.Context) {
	msgs, err := w.broker.ConsumePushQueue()
	if err != nil {
		w.log.Error("failed to start push consumer", slog.String("err", err.Error()))
		return
	}

	go func() {
		for d := range msgs {
			var n broker.PushNotification
			if err := json.Unmarshal(d.Body, &n); err != nil {
				w.log.Error("bad push notification", slog.String("err", err.Error()))
				continue
			}
			if err := w.notifier.Notify(ctx, n); err != nil {
				w.log.Error("push delivery failed",
					slog.Int64("user_id", n.UserID),
					slog.String("err", err.Error()))
			}
		}
	}()

	<-ctx.Done()
}
