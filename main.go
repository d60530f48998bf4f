package main

import (
	"chatterbox/internal/api"
	"chatterbox/internal/auth"
	"chatterbox/internal/commands"
	"chatterbox/internal/config"
	"chatterbox/internal/filestore"
	"chatterbox/internal/http"
	"chatterbox/internal/push"
	"chatterbox/internal/storage"
	"chatterbox/internal/ws"
	"context"
	"errors"
	"flag"
	"io/fs"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, addUser string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if addUser != "" {
		return commands.AddUser(addUser, cfg)
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	files, err := filestore.NewLocalFileStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	hub := ws.NewHub(cfg.RecentMessages)
	users, err := bbStorage.ListUsers()
	if err != nil {
		return err
	}
	for _, u := range users {
		hub.AddUser(u)
	}

	notifier := push.NewNotifier(push.Config{
		PublicKey:  cfg.VAPIDPublicKey,
		PrivateKey: cfg.VAPIDPrivateKey,
		Subject:    cfg.VAPIDSubject,
	}, bbStorage)
	if !notifier.Enabled() {
		log.Println("Web push disabled: VAPID keys not configured")
	}

	identifier := auth.NewIdentifier(ctx, bbStorage, auth.DefaultCacheTTL)
	apiHandlers := api.New(bbStorage, files, hub, notifier, identifier)
	wsServer := ws.NewServer(ctx, hub, identifier)

	adminServer := http.NewAdminServer(api.NewAdminHandler(bbStorage, hub), cfg.AdminAddr)
	apiServer := http.NewAPIServer(apiHandlers, wsServer, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Admin server shutdown error: %v", err)
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Error loading .env file: %v", err)
	}

	addUser := flag.String("add-user", "", "Full name of a user to create on the running server (prints the new user id)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *addUser); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
