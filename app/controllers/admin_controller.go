package controllers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/RaphaelSchmid/ShipLog/app/repository"
)

// HandleAdminListFlags lists unresolved billing reconciliation flags.
func HandleAdminListFlags(c *fiber.Ctx) error {
	offset, limit := parsePagination(c)

	repo := repository.GetGlobalFactory().GetFlagRepository()
	flags, err := repo.ListOpen(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load flags")
	}
	total, err := repo.CountOpen()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count flags")
	}
	return c.JSON(fiber.Map{"items": flags, "total": total})
}

// HandleAdminResolveFlag marks a reconciliation flag as handled.
func HandleAdminResolveFlag(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_id", "Flag id must be a positive integer")
	}
	if err := repository.GetGlobalFactory().GetFlagRepository().Resolve(uint(id)); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to resolve flag")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// HandleAdminListUsers lists accounts, optionally filtered by a search query.
func HandleAdminListUsers(c *fiber.Ctx) error {
	repo := repository.GetGlobalFactory().GetUserRepository()

	if query := c.Query("q"); query != "" {
		users, err := repo.Search(query)
		if err != nil {
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Search failed")
		}
		return c.JSON(fiber.Map{"items": users, "total": len(users)})
	}

	offset, limit := parsePagination(c)
	users, err := repo.List(offset, limit)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load users")
	}
	total, err := repo.Count()
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to count users")
	}
	return c.JSON(fiber.Map{"items": users, "total": total})
}
