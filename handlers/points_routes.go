package handlers

import (
	"strings"

	"participation-points/middleware"
	"participation-points/models"
	"participation-points/services"

	"github.com/gofiber/fiber/v2"
)

// HeaderIdempotencyKey may carry the key instead of the JSON body.
const HeaderIdempotencyKey = "Idempotency-Key"

type awardBody struct {
	UserID         *string                `json:"userId"`
	UserType       string                 `json:"userType"`
	Points         *int64                 `json:"points"`
	Action         *string                `json:"action"`
	Description    string                 `json:"description"`
	Metadata       map[string]interface{} `json:"metadata"`
	IdempotencyKey string                 `json:"idempotencyKey"`
	Source         string                 `json:"source"`
}

type awardResponse struct {
	Success       bool     `json:"success"`
	EntryID       string   `json:"entryId"`
	Duplicate     bool     `json:"duplicate"`
	Points        int64    `json:"points"`
	NewTotal      int64    `json:"newTotal"`
	BadgesAwarded []string `json:"badgesAwarded"`
}

// PointsDeps bundles what the points routes need.
type PointsDeps struct {
	Ledger       *services.LedgerService
	Totals       *services.TotalService
	Achievements *services.AchievementService
	// AwardLimiter is keyed by userId; nil disables limiting.
	AwardLimiter *middleware.KeyedLimiter
	// ServiceAuth guards the write routes.
	ServiceAuth fiber.Handler
}

func SetupPointsRoutes(app *fiber.App, deps PointsDeps) {
	serviceAuth := deps.ServiceAuth
	if serviceAuth == nil {
		serviceAuth = func(c *fiber.Ctx) error { return c.Next() }
	}
	points := app.Group("/points")

	points.Post("/award", serviceAuth, func(c *fiber.Ctx) error {
		var body awardBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		if body.UserID == nil || strings.TrimSpace(*body.UserID) == "" {
			return badRequest(c, "userId is required")
		}
		if body.Points == nil {
			return badRequest(c, "points is required")
		}
		if body.Action == nil || strings.TrimSpace(*body.Action) == "" {
			return badRequest(c, "action is required")
		}

		key := body.IdempotencyKey
		if key == "" {
			key = c.Get(HeaderIdempotencyKey)
		}

		// Retries of a credited key replay without spending a token.
		replay, err := deps.Ledger.Replay(c.UserContext(), *body.UserID, key)
		if err != nil {
			return respondError(c, err)
		}
		if replay != nil {
			return writeAward(c, replay)
		}

		if !deps.AwardLimiter.Allow(*body.UserID) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "too many awards for this user, slow down",
			})
		}

		res, err := deps.Ledger.Award(c.UserContext(), services.AwardRequest{
			UserID:         *body.UserID,
			UserType:       models.UserType(strings.ToLower(strings.TrimSpace(body.UserType))),
			Points:         *body.Points,
			Action:         *body.Action,
			Description:    body.Description,
			Metadata:       body.Metadata,
			IdempotencyKey: key,
			Source:         body.Source,
		})
		if err != nil {
			return respondError(c, err)
		}
		return writeAward(c, res)
	})

	points.Get("/actions", func(c *fiber.Ctx) error {
		catalog := deps.Ledger.Catalog()
		return c.JSON(fiber.Map{
			"version":   catalog.Version(),
			"actions":   catalog.Actions(),
			"badges":    catalog.Badges(),
			"nft_tiers": catalog.NFTTiers(),
		})
	})

	points.Get("/:userId", func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		total, err := deps.Totals.GetTotal(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"userId": userID, "total": total})
	})

	points.Get("/:userId/history", func(c *fiber.Ctx) error {
		entries, err := deps.Ledger.History(c.UserContext(), c.Params("userId"), c.QueryInt("limit", services.DefaultHistoryLimit))
		if err != nil {
			return respondError(c, err)
		}
		if entries == nil {
			entries = []models.PointEntry{}
		}
		return c.JSON(fiber.Map{"userId": c.Params("userId"), "entries": entries})
	})

	points.Get("/:userId/badges", func(c *fiber.Ctx) error {
		awards, err := deps.Achievements.ListAwards(c.UserContext(), c.Params("userId"))
		if err != nil {
			return respondError(c, err)
		}
		if awards == nil {
			awards = []models.BadgeAward{}
		}
		return c.JSON(fiber.Map{"userId": c.Params("userId"), "awards": awards})
	})

	points.Post("/:userId/reconcile", serviceAuth, func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		total, err := deps.Totals.Reconcile(c.UserContext(), userID)
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"userId": userID, "total": total})
	})
}

// writeAward answers 201 for a new credit and 200 for a replayed key.
func writeAward(c *fiber.Ctx, res *services.AwardResult) error {
	status := fiber.StatusCreated
	if !res.Accepted {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(awardResponse{
		Success:       true,
		EntryID:       res.EntryID,
		Duplicate:     !res.Accepted,
		Points:        res.Points,
		NewTotal:      res.NewTotal,
		BadgesAwarded: res.BadgesAwarded,
	})
}
