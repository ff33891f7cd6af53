package notifications

import (
	"context"

	"github.com/angelmondragon/eventpass-backend/pkg/db/models"
	"github.com/angelmondragon/eventpass-backend/pkg/logger"
)

// Notifier dispatches participant and organizer messages. Delivery is
// fire-and-forget: booking flows never fail because an email could not be
// sent, so the interface returns nothing.
type Notifier interface {
	RegistrationConfirmed(ctx context.Context, reg *models.Registration, event *models.Event)
	WaitlistJoined(ctx context.Context, reg *models.Registration, event *models.Event)
	OfferExtended(ctx context.Context, reg *models.Registration, event *models.Event, checkoutURL string)
	RegistrationCancelled(ctx context.Context, reg *models.Registration, event *models.Event)
	RegistrationRefunded(ctx context.Context, reg *models.Registration, event *models.Event)
	OrganizerAlert(ctx context.Context, event *models.Event, message string)
}

// LogNotifier writes every notification to the structured log. It stands in
// until a real mail/SMS provider is wired behind the same interface.
type LogNotifier struct {
	logg *logger.Logger
}

// NewLogNotifier builds the logging notifier.
func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) RegistrationConfirmed(ctx context.Context, reg *models.Registration, event *models.Event) {
	n.emit(ctx, "notify.registration_confirmed", reg, event)
}

func (n *LogNotifier) WaitlistJoined(ctx context.Context, reg *models.Registration, event *models.Event) {
	n.emit(ctx, "notify.waitlist_joined", reg, event)
}

func (n *LogNotifier) OfferExtended(ctx context.Context, reg *models.Registration, event *models.Event, checkoutURL string) {
	if n.logg == nil {
		return
	}
	logCtx := n.fields(ctx, reg, event)
	logCtx = n.logg.WithField(logCtx, "checkout_url", checkoutURL)
	n.logg.Info(logCtx, "notify.offer_extended")
}

func (n *LogNotifier) RegistrationCancelled(ctx context.Context, reg *models.Registration, event *models.Event) {
	n.emit(ctx, "notify.registration_cancelled", reg, event)
}

func (n *LogNotifier) RegistrationRefunded(ctx context.Context, reg *models.Registration, event *models.Event) {
	n.emit(ctx, "notify.registration_refunded", reg, event)
}

func (n *LogNotifier) OrganizerAlert(ctx context.Context, event *models.Event, message string) {
	if n.logg == nil {
		return
	}
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"event_id":     event.ID,
		"organizer_id": event.OrganizerID,
		"message":      message,
	})
	n.logg.Info(logCtx, "notify.organizer_alert")
}

func (n *LogNotifier) emit(ctx context.Context, msg string, reg *models.Registration, event *models.Event) {
	if n.logg == nil {
		return
	}
	n.logg.Info(n.fields(ctx, reg, event), msg)
}

func (n *LogNotifier) fields(ctx context.Context, reg *models.Registration, event *models.Event) context.Context {
	return n.logg.WithFields(ctx, map[string]any{
		"registration_id":   reg.ID,
		"event_id":          event.ID,
		"participant_email": reg.ParticipantEmail,
	})
}
