// cmd/gateway/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"lostwheel-gateway/internal/alerting"
	"lostwheel-gateway/internal/anomaly"
	"lostwheel-gateway/internal/api"
	"lostwheel-gateway/internal/auth"
	"lostwheel-gateway/internal/config"
	"lostwheel-gateway/internal/device"
	"lostwheel-gateway/internal/metrics"
	"lostwheel-gateway/internal/mqttpub"
	"lostwheel-gateway/internal/registry"
	"lostwheel-gateway/internal/session"
	"lostwheel-gateway/internal/websocket"
)

func main() {
	// --- Configuration ---
	configPath := flag.String("config", ".", "Path to the configuration file directory")
	hashPassword := flag.String("hash-password", "", "Print the bcrypt hash of a password for auth.users and exit")
	flag.Parse()

	if *hashPassword != "" {
		hash, err := auth.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(hash)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.New(tint.NewHandler(os.Stderr, nil)).Error("load config", "error", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    cfg.Log.NoColor,
	}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- Initialize Components ---
	m := metrics.New()
	hub := websocket.NewHub(log.With("component", "websocket"), m)
	alerter := alerting.NewAlerter(log.With("component", "alerting"), hub)
	detector := anomaly.NewDetector(cfg, alerter, log.With("component", "anomaly"))
	observers := []session.Observer{hub, detector, alerter}

	if cfg.MQTT.Enabled {
		client, err := mqttpub.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Timeout)
		if err != nil {
			return err
		}
		pub := mqttpub.New(client, cfg.MQTT.TopicPrefix, cfg.MQTT.Timeout, log.With("component", "mqtt"), m)
		go pub.Run(ctx)
		observers = append(observers, pub)
		log.Info("mirroring samples to mqtt", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	acq := cfg.Acquisition
	reg := registry.New(func(id string, dev device.Device, basePath string) (*session.Session, error) {
		return session.New(id, dev, basePath, session.Options{
			WindowSize:     acq.WindowSize,
			CapacityFactor: acq.CapacityFactor,
			BinPeriod:      acq.BinPeriod,
			BinsCapacity:   acq.BinsCapacity,
			BaudRate:       acq.BaudRate,
			ReadTimeout:    acq.ReadTimeout,
			Logger:         log,
			Metrics:        m,
			Observers:      observers,
		})
	}, log.With("component", "registry"))
	defer func() {
		if err := reg.Close(); err != nil {
			log.Warn("closing sessions", "error", err)
		}
	}()

	lister := device.SerialLister{}
	if len(cfg.Sessions) > 0 {
		entries, err := cfg.Assignments(func(port string) (device.Device, error) {
			return device.Lookup(lister, cfg.Devices.Match, port)
		})
		if err != nil {
			return err
		}
		if err := reg.Assign(acq.BasePath, entries); err != nil {
			return err
		}
		log.Info("sessions assigned from config", "count", len(entries), "base_path", acq.BasePath)
	}

	apiHandler := api.NewAPIHandler(api.Deps{
		Registry: reg,
		Lister:   lister,
		Match:    cfg.Devices.Match,
		Hub:      hub,
		Alerter:  alerter,
		Auth:     auth.NewAuthManager(cfg.Auth),
		Metrics:  m,
		Log:      log.With("component", "api"),
	})

	// --- Start WebSocket Hub ---
	go hub.Run(ctx)

	// --- Setup HTTP Servers ---
	controlServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.ControlPort),
		Handler:           api.SetupControlRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	uiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.UIPort),
		Handler:           api.SetupUIRouter(apiHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	serve := func(name string, srv *http.Server) {
		log.Info("starting server", "name", name, "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("%s server: %w", name, err)
		}
	}
	go serve("control", controlServer)
	go serve("ui", uiServer)

	// --- Graceful Shutdown ---
	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down servers")
	case runErr = <-errc:
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	runErr = errors.Join(runErr, controlServer.Shutdown(shutdownCtx), uiServer.Shutdown(shutdownCtx))
	if runErr == nil {
		log.Info("servers gracefully stopped")
	}
	return runErr
}
