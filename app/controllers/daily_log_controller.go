package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/app/repository"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

type dailyLogRequest struct {
	LogDate string `json:"log_date" validate:"required"`
	Title   string `json:"title" validate:"max=200"`
	Content string `json:"content" validate:"required,max=20000"`
}

func parseLogDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

// HandleCreateDailyLog creates a journal entry for the authenticated user.
func HandleCreateDailyLog(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req dailyLogRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}
	logDate, err := parseLogDate(req.LogDate)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "log_date must be YYYY-MM-DD")
	}

	entry := &models.DailyLog{
		UserID:  userCtx.UserID,
		LogDate: logDate,
		Title:   req.Title,
		Content: req.Content,
	}
	if err := repository.GetGlobalFactory().GetDailyLogRepository().Create(entry); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save entry")
	}
	return c.Status(fiber.StatusCreated).JSON(entry)
}

// HandleListDailyLogs returns the user's entries, newest first, paginated.
func HandleListDailyLogs(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	offset, limit := parsePagination(c)

	repo := repository.GetGlobalFactory().GetDailyLogRepository()
	entries, err := repo.GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load entries")
	}
	total, err := repo.CountByUserID(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count entries")
	}
	return c.JSON(fiber.Map{"items": entries, "total": total})
}

// HandleGetDailyLog returns one entry by its public identifier.
func HandleGetDailyLog(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	entry, err := repository.GetGlobalFactory().GetDailyLogRepository().GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load entry")
	}
	if entry.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
	}
	return c.JSON(entry)
}

// HandleUpdateDailyLog updates title, content or date of an entry.
func HandleUpdateDailyLog(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetDailyLogRepository()
	entry, err := repo.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load entry")
	}
	if entry.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
	}

	var req dailyLogRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}
	logDate, err := parseLogDate(req.LogDate)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "log_date must be YYYY-MM-DD")
	}

	entry.LogDate = logDate
	entry.Title = req.Title
	entry.Content = req.Content
	if err := repo.Update(entry); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save entry")
	}
	return c.JSON(entry)
}

// HandleDeleteDailyLog deletes an entry.
func HandleDeleteDailyLog(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetDailyLogRepository()
	entry, err := repo.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load entry")
	}
	if entry.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Entry not found")
	}
	if err := repo.Delete(entry.ID); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete entry")
	}
	return c.JSON(fiber.Map{"ok": true})
}
