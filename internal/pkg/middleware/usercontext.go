package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/database"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/session"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// This centralizes user session handling and eliminates code duplication.
// Plan and status are read from the entitlement row, never from the session:
// a webhook can change them between any two requests, and a stale cached copy
// here would contradict what the quota gate enforces.
func UserContextMiddleware(c *fiber.Ctx) error {
	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		return anonymous(c)
	}

	username := session.GetSessionValue(c, usercontext.KeyUsername)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	userCtx := usercontext.UserContext{
		UserID:     userID.(uint),
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin.(bool),
	}

	if db := database.GetDB(); db != nil {
		repo := billing.NewRepository(db)
		if e, err := repo.GetEntitlementByUserID(userCtx.UserID); err == nil {
			userCtx.Plan = string(e.LocalPlan())
			userCtx.Status = string(e.LocalStatus())
		} else if !billing.IsNotFound(err) {
			log.Printf("user context: entitlement lookup failed for user %d: %v", userCtx.UserID, err)
		}
	}

	c.Locals("USER_CONTEXT", userCtx)
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyUsername, username)
	c.Locals(usercontext.KeyUserID, userCtx.UserID)
	c.Locals(usercontext.KeyIsAdmin, userCtx.IsAdmin)

	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	c.Locals("USER_CONTEXT", usercontext.UserContext{
		IsLoggedIn: false,
		IsAdmin:    false,
	})
	c.Locals(usercontext.KeyFromProtected, false)
	c.Locals(usercontext.KeyIsAdmin, false)
	return c.Next()
}
