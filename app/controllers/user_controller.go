package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/app/repository"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

// HandleGetUserAccount returns account information for the authenticated user.
func HandleGetUserAccount(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetUserRepository()
	account, err := repo.GetByID(userCtx.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "User not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load user")
	}

	snapshot, err := billingService().Snapshot(userCtx.UserID)
	if err != nil && !errors.Is(err, billing.ErrNotFound) {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load subscription")
	}

	logCount, _ := repository.GetGlobalFactory().GetDailyLogRepository().CountByUserID(userCtx.UserID)
	postCount, _ := repository.GetGlobalFactory().GetPostRepository().CountByUserID(userCtx.UserID)

	response := fiber.Map{
		"id":            account.ID,
		"username":      account.Name,
		"email":         account.Email,
		"status":        account.Status,
		"is_admin":      account.Role == models.ROLE_ADMIN,
		"created_at":    account.CreatedAt.UTC().Format(time.RFC3339),
		"last_login_at": formatTimePtr(account.LastLoginAt),
		"subscription":  snapshot,
		"stats": fiber.Map{
			"logs":  logCount,
			"posts": postCount,
		},
	}

	return c.JSON(response)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
