package routes

import (
	"context"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/coordinator"
)

// RegisterUpdateRoutes 暴露部署更新的管理接口：新版本只有收到显式的
// activate 信号才会切换并触发缓存清扫。
func RegisterUpdateRoutes(app *fiber.App, logger *logrus.Logger, co *coordinator.Coordinator) {
	if app == nil || logger == nil || co == nil {
		return
	}

	app.Post("/internal/update/activate", func(c fiber.Ctx) error {
		ctx := c.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := co.ActivatePending(ctx); err != nil {
			logger.WithField("action", "update_activate").Error(err.Error())
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "activation_failed"})
		}
		logger.WithFields(logrus.Fields{
			"action": "update_activate",
			"build":  co.ActiveBuild(),
		}).Info("部署已激活")
		return c.JSON(fiber.Map{"active_build": co.ActiveBuild()})
	})

	app.Get("/internal/update/status", func(c fiber.Ctx) error {
		pending := co.PendingBuild()
		return c.JSON(fiber.Map{
			"active_build":     co.ActiveBuild(),
			"pending_build":    pending,
			"update_available": pending != "",
		})
	})
}
