package main

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/crosspay/backend/internal/database"
	mW "github.com/crosspay/backend/internal/middleware"
	"github.com/crosspay/backend/internal/services"
	"github.com/crosspay/backend/internal/token"
)

// @title International Payments Portal API
// @version 1.0
// @description API for submitting and verifying international payment instructions
// @host localhost:8080
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_minutes", "JWT_EXPIRY_MINUTES")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_minutes", 60)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	secretKey := viper.GetString("jwt.secret_key")
	if secretKey == "" {
		log.Fatal("JWT_SECRET_KEY must be set")
	}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Signing key is read once here and injected; nothing else touches it.
	issuer := token.NewIssuer(secretKey, time.Duration(viper.GetInt("jwt.expiry_minutes"))*time.Minute)

	allocator := services.NewAccountAllocator(rand.New(rand.NewSource(time.Now().UnixNano())))
	authService := services.NewAuthService(db, issuer, allocator)
	isoService := services.NewISO20022Service()
	transactionService := services.NewTransactionService(db, redisClient, isoService)
	receiptService := services.NewReceiptService(db, redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// Public endpoints (no auth required)
	r.Post("/register", authService.Register)
	r.Post("/login", authService.Login)
	r.Post("/employeeLogin", authService.EmployeeLogin)

	// Protected endpoints (auth required)
	authMiddleware := mW.AuthMiddleware(issuer)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)

		r.Post("/payment-process", transactionService.CreatePayment)
		r.Get("/payment-receipts/{userId}", transactionService.GetReceipts)
		r.Get("/payment-receipts/{userId}/qr", receiptService.GenerateReceiptQR)

		// Employee-only endpoints
		r.Group(func(r chi.Router) {
			r.Use(mW.RequireEmployee)

			r.Get("/employeeDashboard", transactionService.ListPending)
			r.Get("/transactions/pending", transactionService.ListPending)
			r.Get("/transactions/verified", transactionService.ListVerified)
			r.Get("/allTransactions", transactionService.ListAll)

			r.Get("/transactionVerification/{transactionId}", transactionService.GetTransaction)
			r.Post("/transactionVerification/{transactionId}", transactionService.VerifyTransaction)

			r.Post("/transactions/submit", transactionService.SubmitToNetwork)
			r.Post("/transactions/reject-all", transactionService.RejectAll)
			r.Get("/transactions/{transactionId}/iso20022", transactionService.ExportISO20022)

			r.Post("/receipts/verify", receiptService.VerifyReceiptCode)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
