package controllers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
	"github.com/RaphaelSchmid/ShipLog/app/repository"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/database"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/textgen"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

type generatePostRequest struct {
	DailyLogUUID string `json:"daily_log_uuid"`
	SourceText   string `json:"source_text" validate:"max=20000"`
	Tone         string `json:"tone" validate:"max=50"`
}

type updatePostRequest struct {
	Content string `json:"content" validate:"required,max=20000"`
	Status  string `json:"status" validate:"omitempty,oneof=draft published"`
	Tone    string `json:"tone" validate:"max=50"`
}

// HandleGeneratePost is the metered operation: quota check, external
// generation, then commit. The counter only moves when usable text came back,
// so a failed generation costs nothing.
func HandleGeneratePost(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var req generatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}

	sourceText := strings.TrimSpace(req.SourceText)
	var dailyLogID *uint
	if req.DailyLogUUID != "" {
		entry, err := repository.GetGlobalFactory().GetDailyLogRepository().GetByUUID(req.DailyLogUUID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return jsonError(c, fiber.StatusNotFound, "not_found", "Journal entry not found")
			}
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load journal entry")
		}
		if entry.UserID != userCtx.UserID {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Journal entry not found")
		}
		dailyLogID = &entry.ID
		if sourceText == "" {
			sourceText = entry.Content
		}
	}
	if sourceText == "" {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", "source_text or daily_log_uuid is required")
	}

	ledger := billing.NewLedgerFromDB(database.GetDB(), entitlements.LoadConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	grant, err := ledger.Check(userCtx.UserID)
	if err != nil {
		return quotaDenial(c, err)
	}

	content, err := textgen.NewClientFromEnv().Generate(ctx, textgen.Request{
		SourceText: sourceText,
		Tone:       req.Tone,
	})
	if err != nil {
		log.Printf("post generation failed for user %d: %v", userCtx.UserID, err)
		return jsonError(c, fiber.StatusBadGateway, "generation_failed", "Text generation failed, nothing was charged")
	}

	if err := ledger.Commit(userCtx.UserID, grant); err != nil {
		return quotaDenial(c, err)
	}

	post := &models.Post{
		UserID:     userCtx.UserID,
		DailyLogID: dailyLogID,
		Tone:       req.Tone,
		SourceText: sourceText,
		Content:    content,
		Status:     models.PostStatusDraft,
	}
	if err := repository.GetGlobalFactory().GetPostRepository().Create(post); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Generated post could not be saved")
	}
	return c.Status(fiber.StatusCreated).JSON(post)
}

// quotaDenial maps ledger errors onto the JSON error surface.
func quotaDenial(c *fiber.Ctx, err error) error {
	var limitErr *billing.LimitReachedError
	switch {
	case errors.As(err, &limitErr):
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":   "limit_reached",
			"message": "Generation limit for this billing period reached",
			"plan":    string(limitErr.Plan),
			"limit":   limitErr.Limit,
			"used":    limitErr.Used,
		})
	case errors.Is(err, billing.ErrSubscriptionRequired):
		return jsonError(c, fiber.StatusPaymentRequired, "subscription_required", "An active trial or subscription is required")
	case errors.Is(err, billing.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "No subscription record")
	default:
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Quota check failed")
	}
}

// HandleListPosts returns the user's posts, newest first, paginated.
func HandleListPosts(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	offset, limit := parsePagination(c)

	repo := repository.GetGlobalFactory().GetPostRepository()
	posts, err := repo.GetByUserID(userCtx.UserID, offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load posts")
	}
	total, err := repo.CountByUserID(userCtx.UserID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count posts")
	}
	return c.JSON(fiber.Map{"items": posts, "total": total})
}

// HandleGetPost returns one post by its public identifier.
func HandleGetPost(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	post, err := repository.GetGlobalFactory().GetPostRepository().GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load post")
	}
	if post.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
	}
	return c.JSON(post)
}

// HandleUpdatePost edits a post's content, tone or status. Editing is free,
// only generation is metered.
func HandleUpdatePost(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetPostRepository()
	post, err := repo.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load post")
	}
	if post.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
	}

	var req updatePostRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", validationMessage(err))
	}

	post.Content = req.Content
	if req.Status != "" {
		post.Status = req.Status
	}
	if req.Tone != "" {
		post.Tone = req.Tone
	}
	if err := repo.Update(post); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to save post")
	}
	return c.JSON(post)
}

// HandleDeletePost deletes a post.
func HandleDeletePost(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	repo := repository.GetGlobalFactory().GetPostRepository()
	post, err := repo.GetByUUID(c.Params("uuid"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load post")
	}
	if post.UserID != userCtx.UserID {
		return jsonError(c, fiber.StatusNotFound, "not_found", "Post not found")
	}
	if err := repo.Delete(post.ID); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to delete post")
	}
	return c.JSON(fiber.Map{"ok": true})
}
