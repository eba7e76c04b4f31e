// Package notify turns reconciliation outcomes into user-facing signals: an
// in-app notification row plus a queued email. Everything here is
// fire-and-forget; a failed notification never fails the event.
package notify

import (
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/TobiasKnoll/SubSync/app/models"
)

// EmailScheduler queues an outbound email for background delivery.
type EmailScheduler interface {
	ScheduleNotificationEmail(to, subject, body string) error
}

// Notifier writes notification rows and queues emails.
type Notifier struct {
	db     *gorm.DB
	emails EmailScheduler
}

// NewNotifier creates a notifier. The email scheduler may be nil; in-app
// notifications still work then.
func NewNotifier(db *gorm.DB, emails EmailScheduler) *Notifier {
	return &Notifier{db: db, emails: emails}
}

// PaymentFailed tells a user their subscription payment failed and access
// continues only through the grace period.
func (n *Notifier) PaymentFailed(userID uint, subscriptionID uint, detail string) {
	content := fmt.Sprintf("A payment for your subscription failed (%s). Please update your payment method to keep access.", detail)
	if err := models.CreateNotification(n.db, userID, models.NotificationTypePaymentFailed, content, subscriptionID); err != nil {
		log.Errorf("[Notify] payment failure notification for user %d: %v", userID, err)
	}
	n.email(userID, "Payment failed", content)
}

// EntitlementRevoked tells a user one of their tenants lost premium access.
func (n *Notifier) EntitlementRevoked(userID uint, tenantID uint) {
	content := "One of your workspaces lost its premium access because no active subscription covers it anymore."
	if err := models.CreateNotification(n.db, userID, models.NotificationTypeEntitlementRevoked, content, tenantID); err != nil {
		log.Errorf("[Notify] revocation notification for user %d: %v", userID, err)
	}
	n.email(userID, "Premium access ended", content)
}

func (n *Notifier) email(userID uint, subject, content string) {
	if n.emails == nil {
		return
	}
	user, err := models.FindUserByID(n.db, userID)
	if err != nil {
		log.Errorf("[Notify] loading user %d for email: %v", userID, err)
		return
	}
	body := fmt.Sprintf("<p>Hello %s,</p><p>%s</p>", user.Name, content)
	if err := n.emails.ScheduleNotificationEmail(user.Email, subject, body); err != nil {
		log.Errorf("[Notify] queueing email for user %d: %v", userID, err)
	}
}
