package server

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ipahub/ipahub/internal/coordinator"
	"github.com/ipahub/ipahub/internal/logging"
)

// GatewayHandler 描述把被拦截请求交给缓存协调器处理的组件，
// 接口形态便于在测试中注入假实现。
type GatewayHandler interface {
	Handle(ctx context.Context, method, requestURI, accept string) *coordinator.Outcome
}

// GatewayHandlerFunc adapts a function to the GatewayHandler interface.
type GatewayHandlerFunc func(ctx context.Context, method, requestURI, accept string) *coordinator.Outcome

// Handle makes GatewayHandlerFunc satisfy GatewayHandler.
func (f GatewayHandlerFunc) Handle(ctx context.Context, method, requestURI, accept string) *coordinator.Outcome {
	return f(ctx, method, requestURI, accept)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger  *logrus.Logger
	Gateway GatewayHandler
}

const contextKeyRequestID = "_ipahub_request_id"

// reservedPrefixes 下的路径不进网关缓存流程，放行给之后注册的 API/管理路由。
var reservedPrefixes = []string{"/api/", "/internal/", "/healthz"}

// NewApp builds a Fiber application with the gateway catch-all route and
// structured error handling. Routes under reserved prefixes fall through so
// the routes subpackage can register them afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Gateway == nil {
		return nil, errors.New("gateway handler is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(requestIDMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isReservedPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return serveGateway(c, opts)
	})

	return app, nil
}

// serveGateway 把请求翻译成协调器调用，并将 Outcome 写回响应。
// 协调器保证任何失败都折叠成兜底响应，这里不会收到错误。
func serveGateway(c fiber.Ctx, opts AppOptions) error {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	accept := string(c.Request().Header.Peek(fiber.HeaderAccept))
	out := opts.Gateway.Handle(ctx, c.Method(), c.OriginalURL(), accept)

	fields := logging.RequestFields(string(out.Class), string(out.Strategy), out.Bucket, out.CacheHit)
	fields["action"] = "gateway_request"
	fields["path"] = string(c.Request().URI().Path())
	if reqID := RequestID(c); reqID != "" {
		fields["request_id"] = reqID
	}
	if out.Fallback {
		opts.Logger.WithFields(fields).Warn("serving fallback response")
	} else {
		opts.Logger.WithFields(fields).Info("gateway request served")
	}

	for key, values := range out.Header {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			c.Response().Header.Add(key, value)
		}
	}
	c.Set("X-Ipahub-Cache-Hit", strconv.FormatBool(out.CacheHit))
	return c.Status(out.Status).Send(out.Body)
}

// requestIDMiddleware 为每个请求生成 ID 并回写响应头。
func requestIDMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isReservedPath(path string) bool {
	for _, prefix := range reservedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
