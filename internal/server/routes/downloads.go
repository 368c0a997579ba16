package routes

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/downloads"
	"github.com/ipahub/ipahub/internal/manifest"
)

// trackRequest 是 track 接口的请求体：客户端即将跳转的下载地址。
type trackRequest struct {
	URL string `json:"url"`
}

// RegisterDownloadRoutes 暴露下载计数 API：快照查询与乐观计数上报。
func RegisterDownloadRoutes(app *fiber.App, logger *logrus.Logger, counter *downloads.Counter) {
	if app == nil || logger == nil || counter == nil {
		return
	}

	app.Get("/api/downloads", func(c fiber.Ctx) error {
		// Counts 的值为 *int64，未知计数序列化为 null 而不是 0。
		payload := fiber.Map{
			"counts": counter.Counts(),
		}
		if until := counter.RateLimitedUntil(); !until.IsZero() && time.Now().Before(until) {
			payload["rate_limited_until"] = until.UTC().Format(time.RFC3339)
		}
		return c.JSON(payload)
	})

	app.Post("/api/downloads/:bundleID/track", func(c fiber.Ctx) error {
		bundleID := strings.TrimSpace(c.Params("bundleID"))
		if bundleID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bundle_id_required"})
		}

		var body trackRequest
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_body"})
		}
		if err := manifest.ValidateDownloadURL(body.URL); err != nil {
			logger.WithFields(logrus.Fields{
				"action":    "track_download",
				"bundle_id": bundleID,
			}).Warn(err.Error())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_download_url"})
		}

		counter.TrackDownload(bundleID)
		return c.SendStatus(fiber.StatusNoContent)
	})
}
