package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"opsight/internal/types"
)

// EmailSender transmits a transactional email. Implemented by
// external.SendGridClient.
type EmailSender interface {
	Send(ctx context.Context, input types.SendInput) (string, error)
}

// nudgeSendTimeout bounds the background send so an unresponsive mail
// provider cannot pin goroutines.
const nudgeSendTimeout = 10 * time.Second

// upgradeNudgeTemplateID is the SendGrid dynamic template for the
// "you hit your pilot limit" email.
const upgradeNudgeTemplateID = "d-upgrade-nudge"

// UpgradeNudger sends the one-off upgrade email when a pilot user first runs
// into a quota. Sends are fire-and-forget: a delivery failure is logged and
// never surfaces into the request that triggered it.
type UpgradeNudger struct {
	mailer EmailSender
	from   types.SenderIdentity
	logger *slog.Logger

	// sent dedupes per user per process lifetime. Quota denials repeat on
	// every blocked request; the nudge should not.
	sent sync.Map
}

// NewUpgradeNudger creates an UpgradeNudger.
func NewUpgradeNudger(mailer EmailSender, from types.SenderIdentity, logger *slog.Logger) *UpgradeNudger {
	if logger == nil {
		logger = slog.Default()
	}
	return &UpgradeNudger{mailer: mailer, from: from, logger: logger}
}

// Notify asynchronously sends the upgrade nudge to the actor, at most once
// per user. Safe to call on every quota denial.
func (n *UpgradeNudger) Notify(actor types.Actor, resource types.MeteredResource) {
	if n.mailer == nil || actor.Email == "" {
		return
	}
	if _, already := n.sent.LoadOrStore(actor.UserID, struct{}{}); already {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), nudgeSendTimeout)
		defer cancel()

		_, err := n.mailer.Send(ctx, types.SendInput{
			To:         actor.Email,
			From:       n.from,
			TemplateID: upgradeNudgeTemplateID,
			TemplateData: map[string]interface{}{
				"resource": string(resource),
			},
			ReferenceID: actor.UserID,
		})
		if err != nil {
			n.logger.Warn("upgrade nudge email failed",
				"user_id", actor.UserID,
				"resource", string(resource),
				"error", err,
			)
			// Allow a later denial to retry the send.
			n.sent.Delete(actor.UserID)
			return
		}
		n.logger.Info("upgrade nudge email sent",
			"user_id", actor.UserID,
			"resource", string(resource),
		)
	}()
}
