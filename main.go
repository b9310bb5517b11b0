package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"contest-engine/handlers"
	"contest-engine/middleware"
	"contest-engine/models"
	"contest-engine/services"
	"contest-engine/utils"
	"contest-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024, // covers cover art uploads
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed — no exceptions
	app.Use(middleware.GatewayAuthMiddleware())

	allowedOriginsEnv := os.Getenv("ALLOWED_ORIGINS")
	if allowedOriginsEnv == "" {
		log.Println("⚠️  ALLOWED_ORIGINS environment variable not set, using default: http://localhost:3000")
		allowedOriginsEnv = "http://localhost:3000"
	}
	allowedOriginsList := strings.Split(allowedOriginsEnv, ",")
	for i, origin := range allowedOriginsList {
		allowedOriginsList[i] = strings.TrimSpace(origin)
	}
	allowedOriginsString := strings.Join(allowedOriginsList, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOriginsString,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, User-Agent, Cache-Control, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, Authorization, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}))

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect to database:", err)
	}

	if err := db.AutoMigrate(
		&models.Category{},
		&models.Level{},
		&models.Profile{},
		&models.Entry{},
		&models.Contest{},
		&models.Vote{},
		&models.PriceSample{},
		&models.Option{},
		&models.Payout{},
	); err != nil {
		log.Fatal("failed to migrate database:", err)
	}

	// Media store is optional; without it the upload endpoint returns 503.
	if err := utils.InitMediaStore(); err != nil {
		log.Printf("⚠️  media store not available: %v", err)
	}

	clock := clockwork.NewRealClock()
	ledger := services.NewLedgerClient()

	optionService := services.NewOptionService(db)
	oracleService := services.NewOracleService(db, optionService, clock)
	contestPool := services.NewContestPool(db)
	payoutService := services.NewPayoutService(db, ledger, clock)
	admissionService := services.NewAdmissionService(db, contestPool, oracleService, optionService, clock)
	distributorService := services.NewDistributorService(db, optionService, payoutService, clock)
	sweeperService := services.NewSweeperService(db, optionService, clock)
	entryService := services.NewEntryService(db, admissionService, optionService, contestPool, payoutService, clock)
	profileService := services.NewProfileService(db, payoutService)
	levelService := services.NewLevelService(db)
	maintenanceService := services.NewMaintenanceService(distributorService, admissionService, sweeperService, payoutService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// External candle feed keeps the oracle window warm; the admin endpoint
	// covers manual recording when the feed is down.
	priceFeed := workers.NewPriceFeedClient(oracleService)
	go workers.PollPrices(ctx, priceFeed, 30*time.Second)

	maintenanceService.StartScheduler()

	handlers.SetupContestRoutes(app, contestPool, entryService, levelService)
	handlers.SetupProfileRoutes(app, profileService)
	handlers.SetupAdminRoutes(app, levelService, profileService, entryService, oracleService, optionService, maintenanceService)

	go func() {
		if err := app.Listen(":5300"); err != nil {
			log.Printf("Server error: %v", err)
		}
	}()

	log.Println("✅ Server running on http://localhost:5300")
	log.Println("✅ Price feed polling running (every 30s)")
	log.Println("✅ Maintenance scheduler running (every 1m)")
	log.Println("✅ GatewayAuthMiddleware enforced globally — all requests must come from Gateway")
	log.Printf("✅ CORS configured for origins: %s", allowedOriginsString)

	<-ctx.Done()
	log.Println("Shutting down server...")
}
