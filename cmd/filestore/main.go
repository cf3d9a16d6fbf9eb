package main

import (
	"flag"
	"net/http"
	"os"

	"tldraw-collab/handlers/files"
	"tldraw-collab/handlers/login"
	"tldraw-collab/handlers/token"
	authMiddleware "tldraw-collab/middleware"
	"tldraw-collab/stores"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func setupRouter(store stores.Store, secret []byte, wsURL string) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "Connection", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", login.HandleLogin)
		r.Get("/callback", login.HandleCallback)
	})

	// User-facing file API, protected by the login session token.
	r.Route("/api/files", func(r chi.Router) {
		r.Use(authMiddleware.AuthJWT(secret))
		r.Post("/", files.HandleCreateFile(store))
		r.Get("/", files.HandleListFiles(store))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", files.HandleGetFile(store))
			r.Post("/token", token.HandleIssue(store, secret, wsURL))
		})
	})

	// Callback protocol for the collaboration tier, protected by storage
	// tokens. Reads and writes carry distinct scope requirements.
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireStorageToken(secret, false))
		r.Get("/file/{id}", files.HandleReadDocument(store))
		r.Get("/asset/{key}", files.HandleServeAsset(store))
	})
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireStorageToken(secret, true))
		r.Put("/file/{id}", files.HandleSaveDocument(store))
		r.Post("/file/{id}/asset", files.HandleUploadAsset(store))
	})

	return r
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3011", "The address to listen on.")
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
	wsURL := os.Getenv("COLLAB_WS_URL")
	if wsURL == "" {
		logrus.Fatal("COLLAB_WS_URL environment variable must be set")
	}

	login.InitAuth()
	store := stores.GetStore()

	r := setupRouter(store, secret, wsURL)

	logrus.WithField("addr", *listenAddress).Info("starting file store")
	if err := http.ListenAndServe(*listenAddress, r); err != nil {
		logrus.WithField("event", "start server").Fatal(err)
	}
}
