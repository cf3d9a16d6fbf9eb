package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"tldraw-collab/auth"
	"tldraw-collab/bridge"
	"tldraw-collab/core"
	"tldraw-collab/handlers/uploads"
	"tldraw-collab/handlers/ws"
	"tldraw-collab/registry"
	"tldraw-collab/room"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const (
	defaultSaveInterval  = 30 * time.Second
	defaultMaxConnsPerIP = 32
	defaultMaxUploadSize = 10 << 20 // 10 MiB

	// Request-rate window for the HTTP routes. The realtime endpoint has its
	// own concurrent-connection quota on top, since held-open sockets are not
	// bounded by a request rate.
	defaultRateLimit  = 1000
	rateLimitInterval = 15 * time.Minute
)

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.Fatalf("Invalid %s: %v", name, err)
	}
	return v
}

func setupRouter(secret []byte, storeBaseURL string, reg *registry.Registry) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(httprate.LimitByIP(envInt("RATE_LIMIT_REQUESTS", defaultRateLimit), rateLimitInterval))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	maxUpload := int64(envInt("MAX_UPLOAD_BYTES", defaultMaxUploadSize))
	r.Post("/uploads", uploads.Handle(secret, storeBaseURL, maxUpload))

	gateway := ws.New(secret, os.Getenv("ALLOWED_ORIGIN"), envInt("MAX_CONNS_PER_IP", defaultMaxConnsPerIP), reg)
	r.Get("/connect", gateway.ServeHTTP)

	return r
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3010", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	secret := []byte(os.Getenv("JWT_SECRET"))
	if len(secret) == 0 {
		logrus.Fatal("JWT_SECRET environment variable must be set")
	}
	storeBaseURL := os.Getenv("FILESTORE_URL")
	if storeBaseURL == "" {
		logrus.Fatal("FILESTORE_URL environment variable must be set")
	}

	saveInterval := time.Duration(envInt("SAVE_INTERVAL_SECONDS", int(defaultSaveInterval/time.Second))) * time.Second
	reg := registry.New(
		func(rawToken string, claims auth.StorageClaims) registry.Storage {
			return bridge.New(storeBaseURL, rawToken, claims)
		},
		func() core.Engine { return room.New() },
		saveInterval,
	)

	r := setupRouter(secret, storeBaseURL, reg)

	srv := &http.Server{Addr: *listenAddress, Handler: r}
	logrus.WithField("addr", *listenAddress).Info("starting collaboration server")
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("http server shutdown")
	}
	// Flush every open room before exiting.
	reg.Shutdown(ctx)
}
