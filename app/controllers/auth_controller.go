package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/app/repository"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/database"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/session"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=3,max=150"`
	Email    string `json:"email" validate:"required,email,min=5,max=200"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// HandleAuthRegister creates the account together with its entitlement row.
// Trial eligibility is decided here, once, against the billing provider's
// history for the address; the registration itself never blocks on a
// provider outage.
func HandleAuthRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	exists, err := userRepo.EmailExists(req.Email)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to check email")
	}
	if exists {
		return jsonError(c, fiber.StatusConflict, "email_taken", "An account with this email already exists")
	}

	user, err := models.CreateUser(req.Name, req.Email, req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	db := database.GetDB()
	cfg := entitlements.LoadConfig()
	evaluator := billing.NewTrialEvaluator(billing.NewRepository(db), billing.NewStripeProvider())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	decision := evaluator.Evaluate(ctx, req.Email)

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		var ent *models.UserEntitlement
		if decision.Eligible {
			ent = models.NewTrialEntitlement(user.ID, cfg.TrialDays)
		} else {
			ent = models.NewIneligibleEntitlement(user.ID)
		}
		return tx.Create(ent).Error
	})
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", fmt.Sprintf("Registration failed: %s", err))
	}

	status := string(entitlements.StatusCancelled)
	if decision.Eligible {
		status = string(entitlements.StatusTrialing)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":            user.ID,
		"name":          user.Name,
		"email":         user.Email,
		"status":        status,
		"trial_granted": decision.Eligible,
	})
}

// HandleAuthLogin verifies the credentials and opens a session.
func HandleAuthLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}

	userRepo := repository.GetGlobalFactory().GetUserRepository()
	user, err := userRepo.GetByEmail(req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "Wrong email or password")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Login failed")
	}

	if !user.CheckPassword(req.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "Wrong email or password")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "account_disabled", "This account is disabled")
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Session could not be created")
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.IsAdmin())
	if err := sess.Save(); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Session could not be saved")
	}

	now := time.Now()
	user.LastLoginAt = &now
	_ = userRepo.Update(user)

	return c.JSON(fiber.Map{
		"id":       user.ID,
		"name":     user.Name,
		"email":    user.Email,
		"is_admin": user.IsAdmin(),
	})
}

// HandleAuthLogout destroys the session.
func HandleAuthLogout(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err == nil {
		_ = sess.Destroy()
	}
	c.Locals(usercontext.KeyFromProtected, false)
	return c.JSON(fiber.Map{"ok": true})
}
