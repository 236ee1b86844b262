package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/wichananm65/art-market-backend/internal/address"
	"github.com/wichananm65/art-market-backend/internal/artwork"
	"github.com/wichananm65/art-market-backend/internal/auth"
	"github.com/wichananm65/art-market-backend/internal/cart"
	"github.com/wichananm65/art-market-backend/internal/config"
	"github.com/wichananm65/art-market-backend/internal/customer"
	"github.com/wichananm65/art-market-backend/internal/database"
	"github.com/wichananm65/art-market-backend/internal/events"
	"github.com/wichananm65/art-market-backend/internal/gateway"
	"github.com/wichananm65/art-market-backend/internal/inventory"
	"github.com/wichananm65/art-market-backend/internal/logging"
	"github.com/wichananm65/art-market-backend/internal/metrics"
	"github.com/wichananm65/art-market-backend/internal/notify"
	"github.com/wichananm65/art-market-backend/internal/order"
	"github.com/wichananm65/art-market-backend/internal/payment"
	"github.com/wichananm65/art-market-backend/internal/receipt"
)

const cartCacheTTL = 10 * time.Minute

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.Service, cfg.Env, cfg.LogFile)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db := mustOpenDB(ctx, cfg, logger)
	defer db.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	artworks := artwork.NewPostgresRepository(db)
	catalog := artwork.NewCatalog(artworks)
	customers := customer.NewPostgresRepository(db)
	addresses := address.NewService(address.NewPostgresRepository(db))

	cartService := cart.NewService(cart.NewPostgresRepository(db), catalog, cartCache(cfg.Redis, logger), logger)
	orders := order.NewPostgresRepository(db)
	orderService := order.NewService(orders, catalog, addresses, cfg.Payment.Currency,
		order.WithCartInvalidator(cartService),
		order.WithMetrics(m),
		order.WithLogger(logger),
	)

	publisher := eventPublisher(cfg.Kafka, logger)
	defer publisher.Close()

	opts := []payment.Option{
		payment.WithMetrics(m),
		payment.WithLogger(logger),
		payment.WithReceipts(receipt.NewGenerator(cfg.Payment.MerchantName, cfg.Payment.MerchantEmail), receiptUploader(cfg.Cloudinary, logger)),
		payment.WithNotifier(notifier(cfg, logger)),
		payment.WithPublisher(publisher),
	}
	engine := payment.NewEngine(payment.NewPostgresRepository(db), orders, customers, opts...)
	paymentService := payment.NewService(mustGateways(cfg, logger), engine, payment.Settings{
		ReservationTTL:  cfg.Inventory.ReservationTTL,
		InitiateTimeout: cfg.Payment.InitiateTimeout,
		ReconcileAfter:  cfg.Payment.ReconcileAfter,
	}, opts...)

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(logging.CronLogger(logger))))
	if _, err := inventory.NewManager(artworks, m, logger).Schedule(scheduler, cfg.Inventory.SweepSpec); err != nil {
		logger.Fatal("schedule reservation sweep", zap.Error(err))
	}
	if _, err := paymentService.Schedule(scheduler, cfg.Payment.ReconcileSpec); err != nil {
		logger.Fatal("schedule payment reconciliation", zap.Error(err))
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{DisableStartupMessage: cfg.Env != "development"})
	app.Use(recover.New())
	setupCORS(app, cfg.HTTP.CORSOrigins)
	app.Use(logging.Middleware(logger))

	paymentHandler := payment.NewHandler(paymentService)
	paymentHandler.RegisterPublicRoutes(app)
	artwork.NewHandler(catalog).RegisterPublicRoutes(app)
	app.Get("/healthz", func(c *fiber.Ctx) error {
		if err := db.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use(auth.Middleware(cfg.Auth.JWTSecret))
	cart.NewHandler(cartService).RegisterProtectedRoutes(app)
	order.NewHandler(orderService).RegisterProtectedRoutes(app)
	paymentHandler.RegisterProtectedRoutes(app)

	go func() {
		if err := app.Listen(cfg.HTTP.Addr); err != nil {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()
	logger.Info("server started", zap.String("addr", cfg.HTTP.Addr))

	<-ctx.Done()
	logger.Info("shutting down")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	engine.Wait()
}

func setupCORS(app *fiber.App, origins string) {
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: "GET,POST,HEAD,PUT,DELETE,PATCH",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
}

func mustOpenDB(ctx context.Context, cfg config.Config, logger *zap.Logger) *sql.DB {
	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logger.Fatal("migrate database", zap.Error(err))
		}
	}
	return db
}

// mustGateways registers the mock provider alone when it is enabled, so a
// local run never reaches a real provider.
func mustGateways(cfg config.Config, logger *zap.Logger) *gateway.Registry {
	if cfg.Payment.UseMock {
		logger.Warn("mock payment provider enabled")
		return gateway.NewRegistry(gateway.NewMockGateway(cfg.Payment.MockReturnURL, cfg.Payment.Currency))
	}
	var gws []gateway.Gateway
	if cfg.Stripe.Enabled() {
		gws = append(gws, gateway.NewStripeGateway(cfg.Stripe))
	}
	if cfg.Pesapal.Enabled() {
		gws = append(gws, gateway.NewPesapalGateway(cfg.Pesapal))
	}
	if cfg.DPO.Enabled() {
		gws = append(gws, gateway.NewDPOGateway(cfg.DPO))
	}
	if cfg.PayPal.Enabled() {
		pp, err := gateway.NewPayPalGateway(cfg.PayPal)
		if err != nil {
			logger.Fatal("paypal client", zap.Error(err))
		}
		gws = append(gws, pp)
	}
	return gateway.NewRegistry(gws...)
}

func cartCache(cfg config.RedisConfig, logger *zap.Logger) cart.Cache {
	if !cfg.Enabled() {
		logger.Info("redis not configured, cart cache disabled")
		return cart.NopCache{}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	return cart.NewRedisCache(client, cartCacheTTL)
}

func eventPublisher(cfg config.KafkaConfig, logger *zap.Logger) events.Publisher {
	if !cfg.Enabled() {
		logger.Info("kafka not configured, payment events disabled")
		return events.NopPublisher{}
	}
	return events.NewKafkaPublisher(cfg)
}

func receiptUploader(cfg config.CloudinaryConfig, logger *zap.Logger) receipt.Uploader {
	if !cfg.Enabled() {
		return receipt.NopUploader{}
	}
	u, err := receipt.NewCloudinaryUploader(cfg)
	if err != nil {
		logger.Fatal("cloudinary client", zap.Error(err))
	}
	return u
}

func notifier(cfg config.Config, logger *zap.Logger) notify.Notifier {
	if !cfg.SMTP.Enabled() {
		return notify.NewLogNotifier(logger)
	}
	return notify.NewMailer(cfg.SMTP, cfg.Payment.MerchantEmail)
}
