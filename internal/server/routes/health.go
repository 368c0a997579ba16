package routes

import "github.com/gofiber/fiber/v3"

// RegisterHealthRoute 暴露存活探针。
func RegisterHealthRoute(app *fiber.App) {
	if app == nil {
		return
	}
	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}
