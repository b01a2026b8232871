package forwarder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PIAS404/mail-to-telegram/internal/notifier"
	"github.com/PIAS404/mail-to-telegram/internal/receiver"
	"github.com/PIAS404/mail-to-telegram/internal/summary"
)

// Notifier delivers one formatted notification.
type Notifier interface {
	Send(ctx context.Context, text string) (string, error)
}

// Forwarder watches one mailbox and relays unseen messages to a chat.
type Forwarder struct {
	receiver receiver.Receiver
	notifier Notifier
	mailbox  string
	interval time.Duration
	maxChars int
	logger   *slog.Logger
}

// New creates a Forwarder polling recv every interval.
func New(
	recv receiver.Receiver,
	notify Notifier,
	mailbox string,
	interval time.Duration,
	maxChars int,
	logger *slog.Logger,
) *Forwarder {
	return &Forwarder{
		receiver: recv,
		notifier: notify,
		mailbox:  mailbox,
		interval: interval,
		maxChars: maxChars,
		logger:   logger,
	}
}

// Run polls immediately, then again interval after each cycle ends, until
// ctx is cancelled. Cycle failures are logged and never stop the loop.
func (f *Forwarder) Run(ctx context.Context) {
	f.logger.Info("starting forwarder",
		"mailbox", f.mailbox,
		"interval", f.interval,
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("forwarder stopped", "mailbox", f.mailbox)
			return
		case <-timer.C:
			err := f.RunOnce(ctx)
			switch {
			case errors.Is(err, context.Canceled):
				f.logger.Debug("poll cycle interrupted", "mailbox", f.mailbox)
			case err != nil:
				f.logger.Error("poll cycle failed", "mailbox", f.mailbox, "error", err)
			}
			timer.Reset(f.interval)
		}
	}
}

// RunOnce performs a single poll cycle: open a session, forward every unseen
// message and close the session again. A message is marked seen only after
// its notification was delivered.
func (f *Forwarder) RunOnce(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in poll cycle: %v", r)
		}
	}()

	f.logger.Debug("polling", "mailbox", f.mailbox)

	session, err := f.receiver.Open()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			f.logger.Warn("close session failed", "mailbox", f.mailbox, "error", closeErr)
		}
	}()

	ids, err := session.Unseen()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		f.logger.Debug("no unseen messages", "mailbox", f.mailbox)
		return nil
	}

	f.logger.Info(fmt.Sprintf("found %d unseen message(s)", len(ids)), "mailbox", f.mailbox)

	for _, id := range ids {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw, err := session.Fetch(id)
		if err != nil {
			f.logger.Warn("fetch failed, leaving unseen", "uid", id, "error", err)
			continue
		}

		s := summary.Parse(raw, f.maxChars)

		resp, err := f.notifier.Send(ctx, notifier.Format(s))
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown cut the request short; the message stays unseen.
				return ctx.Err()
			}
			f.logger.Error("telegram send failed",
				"uid", id,
				"subject", s.Subject,
				"response", resp,
				"error", err,
			)
			continue
		}

		if err := session.MarkSeen(id); err != nil {
			return fmt.Errorf("mark seen uid %d: %w", id, err)
		}

		f.logger.Info("forwarded", "uid", id, "subject", s.Subject)
	}
	return nil
}
