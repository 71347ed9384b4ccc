package routes

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pressgate/pressgate/internal/commands"
	"github.com/pressgate/pressgate/internal/invalidation"
	"github.com/pressgate/pressgate/internal/proxy/hooks"
	"github.com/pressgate/pressgate/internal/server"
)

// AdminOptions 汇总管理接口的依赖。
type AdminOptions struct {
	Registry *server.SiteRegistry
	Commands *commands.Service
	Logger   *logrus.Logger
	// Token 非空时要求 Authorization: Bearer <Token>。
	Token string
}

// RegisterAdminRoutes 暴露 /-/ 管理接口，供运维与 WordPress 插件调用。
func RegisterAdminRoutes(app *fiber.App, opts AdminOptions) {
	if app == nil || opts.Registry == nil || opts.Commands == nil {
		return
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	h := &adminHandlers{registry: opts.Registry, commands: opts.Commands, logger: logger}

	admin := app.Group("/-", bearerAuth(opts.Token))
	admin.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	admin.Get("/hooks", h.listHooks)
	admin.Get("/hooks/:name", h.hookStatus)
	admin.Get("/sites", h.listSites)
	admin.Get("/sites/:site/status", h.withSite(h.status))
	admin.Get("/sites/:site/settings", h.withSite(h.getSettings))
	admin.Put("/sites/:site/settings", h.withSite(h.saveSettings))
	admin.Post("/sites/:site/purge", h.withSite(h.purge))
	admin.Post("/sites/:site/purge-url", h.withSite(h.purgeURL))
	admin.Post("/sites/:site/events", h.withSite(h.dispatch))
}

type adminHandlers struct {
	registry *server.SiteRegistry
	commands *commands.Service
	logger   *logrus.Logger
}

type sitePayload struct {
	Name            string `json:"name"`
	Domain          string `json:"domain"`
	Origin          string `json:"origin"`
	SiteURL         string `json:"site_url"`
	Enabled         bool   `json:"enabled"`
	SettingsVersion int64  `json:"settings_version"`
}

type purgeURLRequest struct {
	URL string `json:"url"`
}

func bearerAuth(token string) fiber.Handler {
	expected := []byte("Bearer " + token)
	return func(c fiber.Ctx) error {
		if token == "" {
			return c.Next()
		}
		got := []byte(strings.TrimSpace(c.Get(fiber.HeaderAuthorization)))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Next()
	}
}

func (h *adminHandlers) withSite(next func(fiber.Ctx, *server.SiteRoute) error) fiber.Handler {
	return func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("site"))
		route, ok := h.registry.LookupName(name)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "site_not_found", "site": name})
		}
		return next(c, route)
	}
}

type hookPayload struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func (h *adminHandlers) listHooks(c fiber.Ctx) error {
	names := hooks.Names()
	payload := make([]hookPayload, 0, len(names))
	for _, name := range names {
		payload = append(payload, hookPayload{Name: name, Status: hooks.Status(name)})
	}
	return c.JSON(fiber.Map{"hooks": payload})
}

func (h *adminHandlers) hookStatus(c fiber.Ctx) error {
	name := strings.TrimSpace(c.Params("name"))
	status := hooks.Status(name)
	code := fiber.StatusOK
	if status == "missing" {
		code = fiber.StatusNotFound
	}
	return c.Status(code).JSON(hookPayload{Name: name, Status: status})
}

func (h *adminHandlers) listSites(c fiber.Ctx) error {
	routes := h.registry.List()
	payload := make([]sitePayload, 0, len(routes))
	for _, route := range routes {
		current := route.Settings.Get()
		payload = append(payload, sitePayload{
			Name:            route.Config.Name,
			Domain:          route.Config.Domain,
			Origin:          route.Config.Origin,
			SiteURL:         current.SiteURL,
			Enabled:         current.EnablePageCaching,
			SettingsVersion: current.Version,
		})
	}
	return c.JSON(fiber.Map{"sites": payload})
}

func (h *adminHandlers) status(c fiber.Ctx, route *server.SiteRoute) error {
	result, err := h.commands.Status(c.Context(), route)
	if err != nil {
		return h.fail(c, route, "status", err)
	}
	return c.JSON(result)
}

func (h *adminHandlers) getSettings(c fiber.Ctx, route *server.SiteRoute) error {
	return c.JSON(route.Settings.Get())
}

func (h *adminHandlers) saveSettings(c fiber.Ctx, route *server.SiteRoute) error {
	partial := map[string]any{}
	if err := c.Bind().JSON(&partial); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	result, err := h.commands.SaveSettings(c.Context(), route, partial)
	if err != nil {
		h.logFailure(route, "settings_save", err)
		return c.Status(statusFor(err)).JSON(result)
	}
	return c.JSON(result)
}

func (h *adminHandlers) purge(c fiber.Ctx, route *server.SiteRoute) error {
	result, err := h.commands.Purge(c.Context(), route)
	if err != nil {
		return h.fail(c, route, "purge", err)
	}
	return c.JSON(result)
}

func (h *adminHandlers) purgeURL(c fiber.Ctx, route *server.SiteRoute) error {
	var req purgeURLRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	ok, err := h.commands.PurgeURL(c.Context(), route, req.URL)
	if err != nil {
		return h.fail(c, route, "purge_url", err)
	}
	return c.JSON(fiber.Map{"success": ok, "url": req.URL})
}

func (h *adminHandlers) dispatch(c fiber.Ctx, route *server.SiteRoute) error {
	var ev invalidation.Event
	if err := c.Bind().JSON(&ev); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_json"})
	}
	result, err := h.commands.Dispatch(c.Context(), route, ev)
	if err != nil {
		return h.fail(c, route, "event", err)
	}
	return c.JSON(result)
}

func (h *adminHandlers) fail(c fiber.Ctx, route *server.SiteRoute, action string, err error) error {
	h.logFailure(route, action, err)
	if cmdErr, ok := commands.AsError(err); ok {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": cmdErr})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": fiber.Map{"code": "internal_error", "message": err.Error()},
	})
}

func (h *adminHandlers) logFailure(route *server.SiteRoute, action string, err error) {
	h.logger.WithFields(logrus.Fields{
		"action": "admin_" + action,
		"site":   route.Config.Name,
	}).WithError(err).Warn("admin_command_failed")
}

// statusFor 将控制面错误码映射为 HTTP 状态码。
func statusFor(err error) int {
	cmdErr, ok := commands.AsError(err)
	if !ok {
		return fiber.StatusInternalServerError
	}
	switch cmdErr.Code {
	case commands.CodeInvalidSettings, commands.CodeInvalidEvent, commands.CodeInvalidURL:
		return fiber.StatusBadRequest
	case commands.CodeNotEnabled:
		return fiber.StatusConflict
	case commands.CodeCacheDirUnavailable:
		return fiber.StatusServiceUnavailable
	}
	if errors.Is(err, invalidation.ErrNoSiteHost) {
		return fiber.StatusUnprocessableEntity
	}
	return fiber.StatusInternalServerError
}
