package server

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/vizzle/studio/internal/auth"
	"github.com/vizzle/studio/internal/config"
	"github.com/vizzle/studio/internal/handler"
	"github.com/vizzle/studio/internal/logger"
	"github.com/vizzle/studio/internal/metrics"
	"github.com/vizzle/studio/internal/middleware"
	"github.com/vizzle/studio/internal/model"
	"github.com/vizzle/studio/internal/service"
	ws "github.com/vizzle/studio/internal/websocket"
	"github.com/vizzle/studio/pkg/response"
)

// BodyLimit covers two 2MB images plus multipart overhead
const BodyLimit = 8 * 1024 * 1024

// Services are the application services behind the HTTP API
type Services struct {
	Sessions *service.SessionService
	Uploads  *service.UploadService
	Pages    *service.PageService
	Wishlist *service.WishlistService
	History  *service.HistoryService
	Safety   *service.SafetyService
}

// Options configure the HTTP app
type Options struct {
	Services      Services
	Authenticator *auth.Authenticator
	// Gateway trusts identity headers set by Traefik ForwardAuth
	Gateway    bool
	Limiter    *middleware.RateLimiter
	RateLimits config.RateLimitConfig
	Hub        *ws.Hub
	Metrics    *metrics.Metrics
	Health     func() fiber.Map
	Log        *logger.Logger
	// AccessLog enables fiber's request logger
	AccessLog bool
}

// New builds the fiber app with every route registered
func New(opts Options) *fiber.App {
	validate := validator.New()

	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler(opts.Log),
		BodyLimit:    BodyLimit,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(fiberlogger.New(fiberlogger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": time.Now().Unix()})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		services := fiber.Map{}
		if opts.Health != nil {
			services = opts.Health()
		}
		return c.JSON(fiber.Map{"status": "ok", "services": services})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics.Handler()))
	}

	authHandler := handler.NewAuthHandler(opts.Authenticator)
	app.Get("/auth/verify", authHandler.Verify)

	var authenticate fiber.Handler
	if opts.Gateway {
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		authenticate = middleware.NewAuthMiddleware(opts.Authenticator).Authenticate()
	}

	svc := opts.Services
	jobs := handler.NewJobHandler(svc.Sessions, validate)
	uploads := handler.NewUploadHandler(svc.Uploads, validate)
	pages := handler.NewPageHandler(svc.Pages, validate)
	wishlist := handler.NewWishlistHandler(svc.Wishlist)
	history := handler.NewHistoryHandler(svc.History)
	safety := handler.NewSafetyHandler(svc.Safety, validate)

	api := app.Group("/api", authenticate)

	kinds := []struct {
		path  string
		kind  model.JobKind
		start fiber.Handler
	}{
		{"/tryon", model.JobKindTryOn, jobs.StartTryOn},
		{"/layered", model.JobKindLayeredTryOn, jobs.StartLayered},
		{"/video", model.JobKindVideo, jobs.StartVideo},
	}
	for _, k := range kinds {
		g := api.Group(k.path)
		g.Post("/start", opts.Limiter.JobLimit(string(k.kind), opts.RateLimits.JobsPerHour), k.start)
		g.Get("/state", jobs.State(k.kind))
		g.Post("/reset", jobs.Reset(k.kind))
		g.Post("/dismiss", jobs.Dismiss(k.kind))
	}

	upload := api.Group("/upload")
	upload.Get("/", uploads.Get)
	upload.Post("/human", opts.Limiter.UploadLimit(opts.RateLimits.UploadsPerHour), uploads.Upload(model.ImageRoleHuman))
	upload.Post("/garment", opts.Limiter.UploadLimit(opts.RateLimits.UploadsPerHour), uploads.Upload(model.ImageRoleGarment))
	upload.Delete("/:role", uploads.Clear)

	page := api.Group("/page")
	page.Get("/", pages.Get)
	page.Put("/", pages.Replace)
	page.Delete("/", pages.Clear)
	page.Post("/garments", pages.AddGarment)
	page.Delete("/garments/:index", pages.RemoveGarment)
	page.Put("/model", pages.SetModelImage)
	page.Put("/tab", pages.SetOriginTab)

	wl := api.Group("/wishlist")
	wl.Get("/", wishlist.Get)
	wl.Delete("/", wishlist.Clear)
	wl.Post("/:productId/toggle", wishlist.Toggle)

	api.Get("/history", history.List)
	api.Delete("/history/:id", history.Delete)

	api.Post("/safety/garment", opts.Limiter.SafetyLimit(opts.RateLimits.SafetyPerMin), safety.CheckGarment)

	if opts.Hub != nil {
		app.Use("/ws", func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		})
		app.Get("/ws/sessions/:userId", authenticate, middleware.RequireSelf("userId"), websocket.New(func(c *websocket.Conn) {
			userID := c.Params("userId")
			initial, err := svc.Sessions.States(userID)
			if err != nil {
				opts.Log.Warn("failed to load session states", "user_id", userID, "error", err)
			}
			opts.Hub.HandleConnection(c, userID, initial)
		}))
	}

	return app
}

func errorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "Internal Server Error"

		var e *fiber.Error
		if errors.As(err, &e) {
			code = e.Code
			message = e.Message
		} else {
			log.Error("unhandled request error", "path", c.Path(), "error", err)
		}

		return response.Error(c, code, response.CodeFor(code), message, nil)
	}
}
