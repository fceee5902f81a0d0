package handlers

import (
	"log/slog"
	"time"

	"github.com/argus-sec/argus/internal/jit"
	"github.com/argus-sec/argus/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type SessionHandler struct {
	db      *gorm.DB
	manager *jit.Manager
}

func NewSessionHandler(db *gorm.DB, manager *jit.Manager) *SessionHandler {
	return &SessionHandler{db: db, manager: manager}
}

func (h *SessionHandler) ListSessions(c *fiber.Ctx) error {
	status := c.Query("status", "")

	query := h.db.Preload("Asset").Order("created_at DESC")
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var sessions []models.Session
	if err := query.Find(&sessions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list sessions",
		})
	}
	return c.JSON(fiber.Map{"sessions": sessions})
}

func (h *SessionHandler) getSession(c *fiber.Ctx) (*models.Session, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid session id",
		})
	}
	var session models.Session
	if err := h.db.Preload("Asset").First(&session, "id = ?", id).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Session not found",
		})
	}
	return &session, nil
}

func (h *SessionHandler) GetSession(c *fiber.Ctx) error {
	session, err := h.getSession(c)
	if session == nil {
		return err
	}
	return c.JSON(session)
}

// CreateSession records an approved access window. The approval workflow
// itself lives upstream; sessions arrive here already approved.
func (h *SessionHandler) CreateSession(c *fiber.Ctx) error {
	var req struct {
		AssetID        uuid.UUID `json:"asset_id"`
		Scope          string    `json:"scope"`
		Databases      []string  `json:"databases"`
		Reason         string    `json:"reason"`
		ScheduledEndAt time.Time `json:"scheduled_end_at"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid request body",
		})
	}
	if !jit.Scope(req.Scope).Known() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Unknown scope: " + req.Scope,
		})
	}
	if !req.ScheduledEndAt.After(time.Now()) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "scheduled_end_at must be in the future",
		})
	}

	var asset models.Asset
	if err := h.db.First(&asset, "id = ?", req.AssetID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Asset not found",
		})
	}

	session := models.Session{
		AssetID:        asset.ID,
		RequestedBy:    actor(c),
		Reason:         req.Reason,
		Scope:          req.Scope,
		Databases:      req.Databases,
		Status:         models.SessionApproved,
		ScheduledEndAt: req.ScheduledEndAt,
	}
	if err := h.db.Create(&session).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create session",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(session)
}

// StartSession provisions the JIT account and hands the plaintext credentials
// to the requester exactly once. Provisioning failure leaves the session in
// approved so it can be retried; it never ends up started without usable
// credentials.
func (h *SessionHandler) StartSession(c *fiber.Ctx) error {
	session, err := h.getSession(c)
	if session == nil {
		return err
	}
	if session.Status != models.SessionApproved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   true,
			"message": "Only approved sessions can be started",
		})
	}

	account, password, err := h.manager.CreateAccount(c.Context(), session)
	if err != nil {
		return jitError(c, err)
	}

	now := time.Now()
	session.Status = models.SessionStarted
	session.StartAt = &now
	if err := h.db.Save(session).Error; err != nil {
		// Roll the provisioned account back rather than strand it. If that
		// fails too the orphan sweep picks the account up later.
		if rbErr := h.manager.TerminateAccount(c.Context(), session); rbErr != nil {
			slog.Error("rollback of provisioned jit account failed",
				"session_id", session.ID, "error", rbErr)
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to start session",
		})
	}

	CreateAuditLog(h.db, actor(c), "session_start", session.Asset.Name, map[string]interface{}{
		"session_id": session.ID,
		"username":   account.Username,
	})

	return c.JSON(fiber.Map{
		"session": session,
		"credentials": fiber.Map{
			"host":      session.Asset.Host,
			"port":      session.Asset.Port,
			"username":  account.Username,
			"password":  password,
			"databases": account.Databases,
		},
	})
}

// EndSession terminates the JIT account and closes the session.
func (h *SessionHandler) EndSession(c *fiber.Ctx) error {
	session, err := h.getSession(c)
	if session == nil {
		return err
	}
	if session.Status != models.SessionStarted {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   true,
			"message": "Only started sessions can be ended",
		})
	}

	if err := h.manager.TerminateAccount(c.Context(), session); err != nil {
		return jitError(c, err)
	}

	now := time.Now()
	session.Status = models.SessionEnded
	session.EndAt = &now
	if session.StartAt != nil {
		session.ActualDuration = int(now.Sub(*session.StartAt).Minutes())
	}
	if err := h.db.Save(session).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to end session",
		})
	}

	CreateAuditLog(h.db, actor(c), "session_end", session.Asset.Name, map[string]interface{}{
		"session_id": session.ID,
	})
	return c.JSON(session)
}

// CancelSession is the alternate terminal path for a session that never
// started. No JIT account was ever created, so the credential subsystem is
// not involved.
func (h *SessionHandler) CancelSession(c *fiber.Ctx) error {
	session, err := h.getSession(c)
	if session == nil {
		return err
	}
	if session.Status != models.SessionApproved {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   true,
			"message": "Only approved sessions can be cancelled",
		})
	}

	session.Status = models.SessionCancelled
	if err := h.db.Save(session).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to cancel session",
		})
	}

	CreateAuditLog(h.db, actor(c), "session_cancel", session.Asset.Name, map[string]interface{}{
		"session_id": session.ID,
	})
	return c.JSON(session)
}

// QueryLogs retrieves the live query log for a started session's account.
func (h *SessionHandler) QueryLogs(c *fiber.Ctx) error {
	session, err := h.getSession(c)
	if session == nil {
		return err
	}
	queries, err := h.manager.SessionQueryLogs(c.Context(), session)
	if err != nil {
		return jitError(c, err)
	}
	return c.JSON(fiber.Map{"queries": queries, "count": len(queries)})
}
