package handlers

import (
	"time"

	"github.com/argus-sec/argus/internal/models"
	"github.com/argus-sec/argus/internal/services"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

var startTime = time.Now()
var Version = "1.0.0"

type SystemHandler struct {
	db     *gorm.DB
	reaper *services.Reaper
}

func NewSystemHandler(db *gorm.DB, reaper *services.Reaper) *SystemHandler {
	return &SystemHandler{db: db, reaper: reaper}
}

func (h *SystemHandler) Health(c *fiber.Ctx) error {
	dbStatus := "ok"
	statusCode := fiber.StatusOK

	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	} else if err := sqlDB.Ping(); err != nil {
		dbStatus = "unreachable: " + err.Error()
		statusCode = fiber.StatusServiceUnavailable
	}

	overall := "ok"
	if statusCode != fiber.StatusOK {
		overall = "degraded"
	}

	return c.Status(statusCode).JSON(fiber.Map{
		"status":  overall,
		"service": "argus",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"uptime":  time.Since(startTime).String(),
		"db":      dbStatus,
	})
}

func (h *SystemHandler) DashboardOverview(c *fiber.Ctx) error {
	var assetCount, activeSessions, activeJITAccounts, expiredToday int64
	h.db.Model(&models.Asset{}).Count(&assetCount)
	h.db.Model(&models.Session{}).Where("status = ?", models.SessionStarted).Count(&activeSessions)
	h.db.Model(&models.AssetAccount{}).
		Where("type = ? AND is_active = ?", models.AccountTypeJIT, true).
		Count(&activeJITAccounts)
	h.db.Model(&models.Session{}).
		Where("status = ? AND end_at > ?", models.SessionExpired, time.Now().Truncate(24*time.Hour)).
		Count(&expiredToday)

	return c.JSON(fiber.Map{
		"version":             Version,
		"uptime":              time.Since(startTime).String(),
		"assets":              assetCount,
		"active_sessions":     activeSessions,
		"active_jit_accounts": activeJITAccounts,
		"expired_today":       expiredToday,
	})
}

// TriggerSweep runs one reaper sweep on demand and returns its per-item
// outcomes.
func (h *SystemHandler) TriggerSweep(c *fiber.Ctx) error {
	result := h.reaper.Sweep(c.Context())
	return c.JSON(result)
}
