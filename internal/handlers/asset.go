package handlers

import (
	"errors"

	"github.com/argus-sec/argus/internal/crypto"
	"github.com/argus-sec/argus/internal/jit"
	"github.com/argus-sec/argus/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetHandler struct {
	db        *gorm.DB
	manager   *jit.Manager
	encryptor *crypto.Encryptor
}

func NewAssetHandler(db *gorm.DB, manager *jit.Manager, encryptor *crypto.Encryptor) *AssetHandler {
	return &AssetHandler{db: db, manager: manager, encryptor: encryptor}
}

// jitError maps the credential subsystem's error taxonomy onto HTTP statuses.
func jitError(c *fiber.Ctx, err error) error {
	var cfgErr *jit.ConfigError
	var drvErr *jit.DriverError

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, jit.ErrCredentialNotFound):
		status = fiber.StatusConflict
	case errors.As(err, &cfgErr):
		status = fiber.StatusBadRequest
	case errors.As(err, &drvErr):
		status = fiber.StatusBadGateway
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

func (h *AssetHandler) ListAssets(c *fiber.Ctx) error {
	var assets []models.Asset
	if err := h.db.Order("created_at DESC").Find(&assets).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to list assets",
		})
	}
	return c.JSON(fiber.Map{"assets": assets})
}

func (h *AssetHandler) CreateAsset(c *fiber.Ctx) error {
	var req struct {
		Name         string `json:"name"`
		Engine       string `json:"engine"`
		Host         string `json:"host"`
		Port         int    `json:"port"`
		Organization string `json:"organization"`
	}
	if err := c.BodyParser(&req); err != nil || req.Name == "" || req.Host == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "name, engine and host are required",
		})
	}
	engine := jit.Engine(req.Engine)
	if engine != jit.EngineMySQL && engine != jit.EnginePostgreSQL {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "engine must be mysql or postgresql",
		})
	}
	if req.Port == 0 {
		if engine == jit.EngineMySQL {
			req.Port = 3306
		} else {
			req.Port = 5432
		}
	}

	asset := models.Asset{
		Name:         req.Name,
		Engine:       req.Engine,
		Host:         req.Host,
		Port:         req.Port,
		Organization: req.Organization,
	}
	if err := h.db.Create(&asset).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to create asset",
		})
	}
	return c.Status(fiber.StatusCreated).JSON(asset)
}

func (h *AssetHandler) getAsset(c *fiber.Ctx) (*models.Asset, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "Invalid asset id",
		})
	}
	var asset models.Asset
	if err := h.db.First(&asset, "id = ?", id).Error; err != nil {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   true,
			"message": "Asset not found",
		})
	}
	return &asset, nil
}

func (h *AssetHandler) GetAsset(c *fiber.Ctx) error {
	asset, err := h.getAsset(c)
	if asset == nil {
		return err
	}
	return c.JSON(asset)
}

func (h *AssetHandler) DeleteAsset(c *fiber.Ctx) error {
	asset, err := h.getAsset(c)
	if asset == nil {
		return err
	}
	if err := h.db.Delete(asset).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to delete asset",
		})
	}
	return c.JSON(fiber.Map{"message": "Asset deleted"})
}

// SetAdminCredential rotates the asset's admin account: the previous active
// admin account is deactivated and a new one stored encrypted.
func (h *AssetHandler) SetAdminCredential(c *fiber.Ctx) error {
	asset, err := h.getAsset(c)
	if asset == nil {
		return err
	}

	var req struct {
		Username  string   `json:"username"`
		Password  string   `json:"password"`
		Databases []string `json:"databases"`
	}
	if err := c.BodyParser(&req); err != nil || req.Username == "" || req.Password == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   true,
			"message": "username and password are required",
		})
	}

	encrypted, err := h.encryptor.Encrypt(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to encrypt credential",
		})
	}

	account := models.AssetAccount{
		AssetID:           asset.ID,
		Type:              models.AccountTypeAdmin,
		Username:          req.Username,
		EncryptedPassword: encrypted,
		Databases:         req.Databases,
		IsActive:          true,
	}
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.AssetAccount{}).
			Where("asset_id = ? AND type = ? AND is_active = ?", asset.ID, models.AccountTypeAdmin, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(&account).Error
	})
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   true,
			"message": "Failed to store admin credential",
		})
	}

	CreateAuditLog(h.db, actor(c), "credential_update", asset.Name, map[string]interface{}{
		"asset_id": asset.ID,
		"username": req.Username,
	})
	return c.Status(fiber.StatusCreated).JSON(account)
}

// TestConnection probes the asset with its stored admin credentials.
func (h *AssetHandler) TestConnection(c *fiber.Ctx) error {
	asset, err := h.getAsset(c)
	if asset == nil {
		return err
	}
	ok := h.manager.TestAdminConnection(c.Context(), asset)
	return c.JSON(fiber.Map{"reachable": ok})
}

// ListDatabases lists databases on the remote asset visible to the admin
// account.
func (h *AssetHandler) ListDatabases(c *fiber.Ctx) error {
	asset, err := h.getAsset(c)
	if asset == nil {
		return err
	}
	databases, err := h.manager.AllDatabases(c.Context(), asset)
	if err != nil {
		return jitError(c, err)
	}
	return c.JSON(fiber.Map{"databases": databases})
}

func actor(c *fiber.Ctx) string {
	username, _ := c.Locals("username").(string)
	if username == "" {
		return "system"
	}
	return username
}
