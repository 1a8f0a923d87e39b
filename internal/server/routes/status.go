package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/any-hub/fetchcache/internal/hashaddr"
	"github.com/any-hub/fetchcache/internal/server"
)

// RegisterStatusRoutes 暴露 /-/ 诊断接口：健康检查、统计、索引查询、完整性修复与 Prometheus 指标。
func RegisterStatusRoutes(app *fiber.App, source server.StatusSource) {
	if app == nil || source == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/stats", func(c fiber.Ctx) error {
		return c.JSON(source.Stats())
	})

	app.Get("/-/entries/:key", func(c fiber.Ctx) error {
		key := strings.ToLower(strings.TrimSpace(c.Params("key")))
		if _, err := hashaddr.ParseHex(key); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_key"})
		}
		record, ok := source.Lookup(key)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
		}
		return c.JSON(entryPayload{
			Key:       key,
			URL:       record.URL,
			ContentID: record.ContentID,
			Params:    len(record.Params),
		})
	})

	app.Post("/-/verify", func(c fiber.Ctx) error {
		report, err := source.VerifyAndRepair(c.Context())
		if err != nil {
			return err
		}
		removed := report.Removed
		if removed == nil {
			removed = []string{}
		}
		return c.JSON(verifyPayload{
			Root:    source.Root(),
			Scanned: report.Scanned,
			Removed: removed,
		})
	})

	app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(source.Gatherer(), promhttp.HandlerOpts{})))
}

type entryPayload struct {
	Key       string `json:"key"`
	URL       string `json:"url"`
	ContentID string `json:"content_id"`
	Params    int    `json:"params"`
}

type verifyPayload struct {
	Root    string   `json:"root"`
	Scanned int      `json:"scanned"`
	Removed []string `json:"removed"`
}
