package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"videokyc-platform/internal/calls"
	"videokyc-platform/internal/kyc"
)

// Subscriber is the call change feed as seen by the mailer.
type Subscriber interface {
	Subscribe(ctx context.Context, f calls.Filter, fn func(calls.Change)) (func(), error)
}

type Profiles interface {
	Get(ctx context.Context, userID string) (kyc.Profile, error)
}

// Once reports whether key is seen for the first time. It lets several API
// instances share one feed without sending duplicate emails.
type Once interface {
	Claim(ctx context.Context, key string) (bool, error)
}

const sendTimeout = 15 * time.Second

// Mailer emails requesters when their call reaches a terminal status.
// Delivery failures are logged; they never affect call state.
type Mailer struct {
	feed     Subscriber
	profiles Profiles
	sender   Sender
	once     Once
	fromName string
	log      *slog.Logger
}

func NewMailer(feed Subscriber, profiles Profiles, sender Sender, once Once, fromName string, log *slog.Logger) *Mailer {
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{feed: feed, profiles: profiles, sender: sender, once: once, fromName: fromName, log: log}
}

// Run blocks until ctx ends.
func (m *Mailer) Run(ctx context.Context) error {
	cancel, err := m.feed.Subscribe(ctx, calls.Filter{}, func(c calls.Change) {
		m.handle(ctx, c)
	})
	if err != nil {
		return fmt.Errorf("mailer subscribe: %w", err)
	}
	defer cancel()
	<-ctx.Done()
	return nil
}

func (m *Mailer) handle(ctx context.Context, c calls.Change) {
	if c.IsInsert() {
		return
	}
	r := c.Record
	var t Template
	switch {
	case r.Status == calls.StatusCompleted && r.VerificationResult == calls.ResultApproved:
		t = TemplateKYCApproved
	case r.Status == calls.StatusCompleted:
		t = TemplateKYCRejected
	case r.Status == calls.StatusRejected:
		t = TemplateCallDeclined
	default:
		return
	}

	log := m.log.With("call_id", r.ID, "template", string(t))
	if m.once != nil {
		first, err := m.once.Claim(ctx, "mail:"+r.ID+":"+string(r.Status))
		if err != nil {
			log.Warn("email dedupe failed, sending anyway", "err", err)
		} else if !first {
			return
		}
	}
	if err := m.sendTo(ctx, r.RequesterID, t, Data{Notes: r.Notes}); err != nil {
		log.Warn("call outcome email failed", "err", err)
		return
	}
	log.Info("call outcome email sent")
}

// Invite emails a user a link to start their verification call.
func (m *Mailer) Invite(ctx context.Context, userID, link string) error {
	if link == "" {
		return errors.New("notify: invite link required")
	}
	return m.sendTo(ctx, userID, TemplateVideoCallLink, Data{Link: link})
}

func (m *Mailer) sendTo(ctx context.Context, userID string, t Template, d Data) error {
	p, err := m.profiles.Get(ctx, userID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if p.Email == "" {
		return fmt.Errorf("recipient %s has no email", userID)
	}
	d.Name = p.FullName
	d.From = m.fromName
	e, err := Render(t, p.Email, d)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return m.sender.Send(sendCtx, e)
}
