package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	_ "github.com/ImGhostCode/smart-garden/migrations"

	"github.com/ImGhostCode/smart-garden/internal/address"
	"github.com/ImGhostCode/smart-garden/internal/api"
	"github.com/ImGhostCode/smart-garden/internal/automation"
	"github.com/ImGhostCode/smart-garden/internal/gateway"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/config"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/database"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/influxdb"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/logging"
	"github.com/ImGhostCode/smart-garden/internal/infrastructure/mqtt"
	"github.com/ImGhostCode/smart-garden/internal/metrics"
	"github.com/ImGhostCode/smart-garden/internal/panel"
	"github.com/ImGhostCode/smart-garden/internal/radio"
	"github.com/ImGhostCode/smart-garden/internal/registry"
)

const (
	retentionInterval = time.Hour
	hoursPerDay       = 24
)

// run is the actual application logic, separated from main for testability.
//
// Start-up failures (config, database, radio init) abort with a wrapped
// error. Once the control loop is running, broker outages and radio errors
// are handled inside the loop and never end the process.
func run(ctx context.Context, configFlag string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting smart garden gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.ResolvePath(configFlag)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	table, err := address.FromStrings(cfg.Radio.NodeAddresses, cfg.Radio.GatewayAddress)
	if err != nil {
		return fmt.Errorf("building address table: %w", err)
	}

	// Open database
	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := registry.NewStore(db)
	store.SetLogger(log)
	if seedErr := store.Seed(ctx, table); seedErr != nil {
		return fmt.Errorf("seeding node registry: %w", seedErr)
	}
	log.Info("node registry initialised", "nodes", table.Len())

	// Background work is joined before the deferred closes run.
	var bg sync.WaitGroup
	bgCtx, stopBackground := context.WithCancel(ctx)
	defer func() {
		stopBackground()
		bg.Wait()
	}()

	if cfg.Database.RetentionDays > 0 {
		retention := time.Duration(cfg.Database.RetentionDays) * hoursPerDay * time.Hour
		bg.Add(1)
		go func() {
			defer bg.Done()
			store.RunRetention(bgCtx, retention, retentionInterval)
		}()
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Radio
	rcfg, err := radioConfig(cfg.Radio)
	if err != nil {
		return fmt.Errorf("radio config: %w", err)
	}
	driver, err := openDriver(bgCtx, &bg, cfg.Radio, rcfg, table, log)
	if err != nil {
		return fmt.Errorf("opening radio: %w", err)
	}
	transport := radio.NewTransport(driver, table, rcfg)
	transport.SetLogger(log)
	defer func() {
		log.Info("closing radio")
		if closeErr := transport.Close(); closeErr != nil {
			log.Error("error closing radio", "error", closeErr)
		}
	}()
	if initErr := transport.Init(ctx); initErr != nil {
		return fmt.Errorf("initialising radio: %w", initErr)
	}
	log.Info("radio listening",
		"driver", cfg.Radio.Driver,
		"channel", cfg.Radio.Channel,
		"pa_level", rcfg.PALevel.String(),
		"nodes", table.Len(),
	)

	// MQTT session. The control loop connects it on its first step.
	session, err := mqtt.NewSession(cfg.MQTT, mqtt.Options{
		GatewayID: cfg.Gateway.ID,
		Logger:    log,
	})
	if err != nil {
		return fmt.Errorf("creating MQTT session: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := session.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()

	bridge := gateway.NewBridge(session, transport, table, cfg.MQTT.Topics, log)
	gw := gateway.New(gateway.Config{
		GatewayID:      cfg.Gateway.ID,
		Version:        version,
		PollInterval:   cfg.GetPollInterval(),
		HealthInterval: cfg.GetHealthInterval(),
	}, bridge, log)

	// Sinks
	gw.AddSink(store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(reg, metrics.Sources{
		Session:   session.Stats,
		Connected: session.IsConnected,
		Radio:     transport.Stats,
		Loop:      gw.Stats,
	})
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}
	gw.AddSink(m)

	if influxClient != nil {
		gw.AddSink(gateway.NewTimeSeriesSink(influxClient))
	}

	// Threshold watering (optional)
	var rules *automation.Registry
	var engine *automation.Engine
	if cfg.Automation.Enabled {
		loc, locErr := cfg.GetAutomationLocation()
		if locErr != nil {
			return fmt.Errorf("automation timezone: %w", locErr)
		}

		repo := automation.NewSQLiteRepository(db)
		rules = automation.NewRegistry(repo, table)
		rules.SetLogger(log)
		if refreshErr := rules.RefreshCache(ctx); refreshErr != nil {
			return fmt.Errorf("loading automation rules: %w", refreshErr)
		}

		engine = automation.NewEngine(rules, repo, table, session, gw, automation.Options{
			CommandTopic: cfg.MQTT.Topics.Command,
			Location:     loc,
			Logger:       log,
		})
		if startErr := engine.Start(ctx); startErr != nil {
			return fmt.Errorf("starting automation engine: %w", startErr)
		}
		defer func() {
			stats := engine.Stats()
			log.Info("stopping automation engine",
				"triggers", stats.Triggers,
				"auto_offs", stats.AutoOffs,
				"publish_failures", stats.PublishFailures,
			)
			engine.Close()
		}()
		gw.AddSink(engine)
		log.Info("automation enabled", "rules", rules.RuleCount(), "timezone", loc.String())
	} else {
		log.Info("automation disabled")
	}

	// HTTP API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(bgCtx, cfg, apiDeps{
			log:       log,
			store:     store,
			table:     table,
			session:   session,
			gw:        gw,
			gatherer:  reg,
			db:        db,
			influx:    influxClient,
			transport: transport,
			rules:     rules,
			engine:    engine,
		})
		if apiErr != nil {
			return fmt.Errorf("starting API server: %w", apiErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("HTTP API disabled")
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, entering control loop",
		"gateway_id", cfg.Gateway.ID,
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
	)

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("control loop: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// API server, automation, MQTT, radio, InfluxDB (if enabled), database.

	log.Info("smart garden gateway stopped")
	return nil
}

type apiDeps struct {
	log       *logging.Logger
	store     *registry.Store
	table     *address.Table
	session   *mqtt.Session
	gw        *gateway.Gateway
	gatherer  prometheus.Gatherer
	db        *database.DB
	influx    *influxdb.Client
	transport *radio.Transport
	rules     *automation.Registry
	engine    *automation.Engine
}

// startAPI builds the API server, registers its WebSocket hub as a sink and
// starts listening.
func startAPI(ctx context.Context, cfg *config.Config, d apiDeps) (*api.Server, error) {
	checks := []api.HealthCheck{
		{Name: "database", Check: d.db.HealthCheck},
		{Name: "radio", Check: func(context.Context) error {
			if !d.transport.Ready() {
				return radio.ErrNotReady
			}
			return nil
		}},
	}
	if d.influx != nil {
		checks = append(checks, api.HealthCheck{Name: "influxdb", Check: d.influx.HealthCheck})
	}

	var dashboard http.Handler
	if cfg.API.Dashboard {
		dashboard = panel.Handler(cfg.API.DashboardDir)
	}

	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       d.log,
		Store:        d.store,
		Table:        d.table,
		CommandTopic: cfg.MQTT.Topics.Command,
		Publisher:    d.session,
		Commands:     d.gw,
		Gatherer:     d.gatherer,
		Dashboard:    dashboard,
		Checks:       checks,
		GatewayStats: d.gw.Details,
		DBStats:      func() sql.DBStats { return d.db.Stats() },
		Version:      version,
	}
	// Nil pointers must not reach the interface fields.
	if d.rules != nil {
		deps.Rules = d.rules
	}
	if d.engine != nil {
		deps.Pumps = d.engine
	}

	srv, err := api.New(deps)
	if err != nil {
		return nil, err
	}
	d.gw.AddSink(srv.Hub())

	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	d.log.Info("API server started", "addr", srv.Addr())
	return srv, nil
}

// healthCheck verifies the infrastructure the gateway cannot run without.
// The broker is not checked: the control loop connects it and keeps
// retrying while it is down.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
