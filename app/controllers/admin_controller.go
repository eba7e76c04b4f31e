package controllers

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/app/repository"
	"github.com/TobiasKnoll/SubSync/internal/pkg/database"
	"github.com/TobiasKnoll/SubSync/internal/pkg/entitlements"
	"github.com/TobiasKnoll/SubSync/internal/pkg/jobqueue"
	"github.com/TobiasKnoll/SubSync/internal/pkg/metrics/counter"
)

var adminRepos *repository.Repositories

// InitializeAdminController wires the admin controller with repositories
func InitializeAdminController() {
	repository.InitializeFactory(database.GetDB())
	adminRepos = repository.GetGlobalFactory().GetRepositories()
}

// HandleAdminUserResync recomputes all entitlements of one user from stored
// subscription state. Support tool for drift after incidents; it runs the
// same fan-out path as event processing.
func HandleAdminUserResync(c *fiber.Ctx) error {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}
	if _, err := adminRepos.User.GetByID(userID); err != nil {
		if err == gorm.ErrRecordNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user_not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	applied, err := GetReconcileService().ResyncUser(ctx, userID)
	if err != nil {
		log.Errorf("[Admin] resync for user %d failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "resync_failed"})
	}
	return c.JSON(fiber.Map{"ok": true, "user_id": userID, "applied": applied})
}

// HandleAdminUserSubscriptions lists a user's subscriptions with their
// current entitlement grants.
func HandleAdminUserSubscriptions(c *fiber.Ctx) error {
	userID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_user_id"})
	}

	subs, err := adminRepos.Subscription.GetByUserID(userID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}

	db := database.GetDB()
	type subscriptionView struct {
		models.Subscription
		Entitlements []models.Entitlement `json:"entitlements"`
	}
	views := make([]subscriptionView, 0, len(subs))
	tenantTiers := make(map[uint][]entitlements.Tier)
	for _, sub := range subs {
		var ents []models.Entitlement
		if err := db.Where("subscription_id = ?", sub.ID).Find(&ents).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
		}
		for _, ent := range ents {
			if ent.Active {
				tenantTiers[ent.TenantID] = append(tenantTiers[ent.TenantID], entitlements.NormalizeTier(ent.Tier))
			}
		}
		views = append(views, subscriptionView{Subscription: sub, Entitlements: ents})
	}

	// Effective access per tenant: strongest tier across all active grants.
	type tenantAccess struct {
		TenantID  uint   `json:"tenant_id"`
		Tier      string `json:"tier"`
		Templates bool   `json:"templates"`
		Seats     bool   `json:"seats"`
		API       bool   `json:"api"`
	}
	access := make([]tenantAccess, 0, len(tenantTiers))
	for tenantID, tiers := range tenantTiers {
		best := entitlements.BestTier(tiers)
		templates, seats, api := entitlements.AllowedFeatures(best)
		access = append(access, tenantAccess{
			TenantID:  tenantID,
			Tier:      string(best),
			Templates: templates,
			Seats:     seats,
			API:       api,
		})
	}
	sort.Slice(access, func(i, j int) bool { return access[i].TenantID < access[j].TenantID })

	return c.JSON(fiber.Map{"user_id": userID, "subscriptions": views, "tenant_access": access})
}

// HandleAdminBillingEvents lists recent provider events, newest first.
func HandleAdminBillingEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	var events []models.BillingEvent
	query := database.GetDB().Order("id DESC").Limit(limit)
	if outcome := c.Query("outcome"); outcome != "" {
		query = query.Where("outcome = ?", outcome)
	}
	if err := query.Find(&events).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	// Payloads can be large; the listing carries metadata only.
	for i := range events {
		events[i].PayloadJSON = ""
	}
	return c.JSON(fiber.Map{"events": events})
}

// HandleAdminTransactionLog lists the audit trail of one subscription.
func HandleAdminTransactionLog(c *fiber.Ctx) error {
	subID, err := parseIDParam(c, "id")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_subscription_id"})
	}

	var entries []models.TransactionLog
	err = database.GetDB().
		Where("subscription_id = ?", subID).
		Order("id ASC").
		Find(&entries).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup_failed"})
	}
	return c.JSON(fiber.Map{"subscription_id": subID, "entries": entries})
}

// HandleAdminQueueStats reports job queue depth and per-status counters.
func HandleAdminQueueStats(c *fiber.Ctx) error {
	queue := jobqueue.GetManager().GetQueue()
	ctx := c.Context()

	stats, err := queue.GetJobStats(ctx)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "stats_unavailable"})
	}
	pending, _ := queue.GetQueueSize(ctx)
	processing, _ := queue.GetProcessingSize(ctx)
	outcomes, _ := counter.GetEventOutcomeTotals(ctx)

	return c.JSON(fiber.Map{
		"pending":        pending,
		"processing":     processing,
		"stats":          stats,
		"event_outcomes": outcomes,
	})
}

// HandleAdminResetOutcomeCounters clears the advisory outcome tallies, e.g.
// after a dashboard epoch change. Reconciliation state is untouched.
func HandleAdminResetOutcomeCounters(c *fiber.Ctx) error {
	if err := counter.ResetEventOutcomeTotals(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reset_failed"})
	}
	return c.JSON(fiber.Map{"ok": true})
}

func parseIDParam(c *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Params(name), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
