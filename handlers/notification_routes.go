package handlers

import (
	"participation-points/services"
	"participation-points/workers"

	"github.com/gofiber/fiber/v2"
)

type subscriptionBody struct {
	UserID   string `json:"userId"`
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

type NotificationDeps struct {
	Worker        *workers.DeliveryWorker
	Outbox        *services.OutboxService
	Subscriptions *services.SubscriptionService
	// CronAuth guards the queue routes (bearer secret).
	CronAuth fiber.Handler
	// ServiceAuth guards subscription writes.
	ServiceAuth fiber.Handler
}

func SetupNotificationRoutes(app *fiber.App, deps NotificationDeps) {
	pass := func(c *fiber.Ctx) error { return c.Next() }
	if deps.CronAuth == nil {
		deps.CronAuth = pass
	}
	if deps.ServiceAuth == nil {
		deps.ServiceAuth = pass
	}

	queue := app.Group("/notifications/queue", deps.CronAuth)

	queue.Post("/process", func(c *fiber.Ctx) error {
		res, err := deps.Worker.RunOnce(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(res)
	})

	queue.Get("/stats", func(c *fiber.Ctx) error {
		counts, err := deps.Outbox.Stats(c.UserContext())
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(counts)
	})

	queue.Post("/:id/requeue", func(c *fiber.Ctx) error {
		if err := deps.Outbox.Requeue(c.UserContext(), c.Params("id")); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"success": true, "id": c.Params("id")})
	})

	app.Post("/notifications/subscriptions", deps.ServiceAuth, func(c *fiber.Ctx) error {
		var body subscriptionBody
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		err := deps.Subscriptions.Register(c.UserContext(), services.SubscriptionRequest{
			UserID:    body.UserID,
			Endpoint:  body.Endpoint,
			P256dh:    body.Keys.P256dh,
			Auth:      body.Keys.Auth,
			UserAgent: c.Get(fiber.HeaderUserAgent),
		})
		if err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"success": true})
	})

	app.Delete("/notifications/subscriptions", deps.ServiceAuth, func(c *fiber.Ctx) error {
		var body struct {
			Endpoint string `json:"endpoint"`
		}
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "invalid JSON body")
		}
		if err := deps.Subscriptions.Unregister(c.UserContext(), body.Endpoint); err != nil {
			return respondError(c, err)
		}
		return c.JSON(fiber.Map{"success": true})
	})
}
