package main

import (
	"log"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"cognify/internal/account"
	"cognify/internal/ai"
	"cognify/internal/app"
	"cognify/internal/config"
	"cognify/internal/history"
	"cognify/internal/server"
	"cognify/internal/storage"
	"cognify/internal/store"
	"cognify/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	accounts, err := account.NewStore(cfg.AccountsFile, cfg.HistoryDir)
	if err != nil {
		log.Fatalf("failed to init account store: %v", err)
	}
	transcripts, err := history.NewStore(cfg.HistoryDir)
	if err != nil {
		log.Fatalf("failed to init history store: %v", err)
	}

	sessionTTL := time.Duration(cfg.SessionTTLMinutes) * time.Minute
	var sessions store.SessionStore
	if cfg.RedisAddr != "" {
		sessions = store.NewRedisSessionStore(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	} else {
		sessions = store.NewJWTSessionStore(cfg.SessionSecret, sessionTTL)
	}

	var archive storage.Archive
	if cfg.MinioEndpoint != "" {
		archive, err = storage.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	} else {
		archive, err = storage.NewDirArchive(filepath.Join(filepath.Dir(cfg.AccountsFile), "uploads"))
	}
	if err != nil {
		log.Fatalf("failed to init upload archive: %v", err)
	}

	appCore, err := app.New(app.Config{
		Accounts: accounts,
		History:  transcripts,
		Ollama:   ai.NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel),
		Sessions: sessions,
		Archive:  archive,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                      appCore,
		RedisAddr:                cfg.RedisAddr,
		RedisPassword:            cfg.RedisPassword,
		SignupRateLimitPerMinute: cfg.AuthRateLimit,
		LoginRateLimitPerMinute:  cfg.AuthRateLimit,
		MaxUploadBytes:           cfg.MaxUploadBytes,
		AllowedExtensions:        cfg.AllowedExtensions,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Answers stream for as long as the model generates; the write
		// timeout has to outlast the inference timeout.
		WriteTimeout: 330 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr, "model", cfg.OllamaModel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
