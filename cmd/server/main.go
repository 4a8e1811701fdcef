package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/remote-access-relay/backend/api/handlers"
	"github.com/remote-access-relay/backend/internal/db"
	"github.com/remote-access-relay/backend/internal/presence"
	"github.com/remote-access-relay/backend/internal/registry"
	"github.com/remote-access-relay/backend/internal/relay"
	"github.com/remote-access-relay/backend/internal/repository"
	"github.com/remote-access-relay/backend/internal/session"
)

func main() {
	// Get configuration from environment (.env is optional)
	godotenv.Load()
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/devices.db")

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database and device inventory
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()
	deviceRepo := repository.NewDeviceRepository(database)

	// Initialize the relay state: connection registry, session manager,
	// presence tracker
	connRegistry := registry.NewRegistry()
	sessionManager := session.NewManager(connRegistry)
	tracker := presence.NewTracker(connRegistry, presence.Config{})

	relayService := relay.New(connRegistry, sessionManager, tracker, deviceRepo)

	// Start the staleness sweep
	tracker.Start()
	defer tracker.Stop()

	// Initialize handlers
	deviceHandler := handlers.NewDeviceHandler(relayService)
	wsHandler := handlers.NewWebSocketHandler(relayService)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// WebSocket endpoint for agents and browsers
	wsHandler.RegisterRoutes(&r.RouterGroup)

	// API routes
	api := r.Group("/api")
	{
		deviceHandler.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		tracker.Stop()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting relay server on port %s", port)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
