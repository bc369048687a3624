package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendledger/core/events"
	"lendledger/native/lending"
	"lendledger/observability/logging"
	"lendledger/observability/metrics"
	telemetry "lendledger/observability/otel"
	"lendledger/services/lendingd/config"
	"lendledger/services/lendingd/journal"
	"lendledger/services/lendingd/pool"
	"lendledger/services/lendingd/server"
	"lendledger/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		slog.Error("lendingd exited", "error", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	env := strings.TrimSpace(os.Getenv("LENDLEDGER_ENV"))

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, closeLog := logging.SetupWithOptions(logging.Options{
		Service:    "lendingd",
		Env:        env,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	defer closeLog.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("lendingd", env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	markets, err := lending.LoadMarketsConfig(cfg.Markets)
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}

	var db storage.Database
	if cfg.DataDir != "" {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("open state: %w", err)
		}
		db = ldb
	} else {
		logger.Warn("data_dir not set; lending state is kept in memory")
		db = storage.NewMemDB()
	}
	defer db.Close()

	var (
		emitter  events.Emitter = events.NoopEmitter{}
		eventLog server.EventLog
	)
	if cfg.JournalDSN != "" {
		gdb, err := journal.Open(cfg.JournalDSN)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if sqlDB, err := gdb.DB(); err == nil {
			defer sqlDB.Close()
		}
		j, err := journal.New(gdb, logger)
		if err != nil {
			return fmt.Errorf("init journal: %w", err)
		}
		emitter = j
		eventLog = j
		logger.Info("event journal enabled", "driver", cfg.JournalDriver())
	}

	p, err := pool.Open(db, markets, pool.Options{
		OracleMaxAge:  cfg.Oracle.MaxAge,
		PausedModules: cfg.PausedModules,
		Emitter:       emitter,
		Metrics:       metrics.Lending(),
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("open pool: %w", err)
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if cfg.TLS.AllowInsecure {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}

	api := server.New(server.Config{
		Engine:    p.Engine,
		Prices:    p.Prices,
		Custody:   p.Custody(),
		Events:    eventLog,
		Auth:      cfg.Auth,
		RateLimit: cfg.RateLimit,
		Logger:    logger,
		Metrics:   true,
	})
	httpServer := &http.Server{
		Handler:           api.Handler(),
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", listener.Addr().String(), "tls", tlsCfg != nil)
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if cfg.CertPath == "" || cfg.KeyPath == "" {
		if cfg.AllowInsecure {
			return nil, nil
		}
		return nil, fmt.Errorf("tls credentials are required")
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = certPool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
