package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ps-ux/ipsim/internal/alarms"
	"github.com/ps-ux/ipsim/internal/bridge"
	"github.com/ps-ux/ipsim/internal/config"
	"github.com/ps-ux/ipsim/internal/fanout"
	"github.com/ps-ux/ipsim/internal/methods"
	"github.com/ps-ux/ipsim/internal/model"
	"github.com/ps-ux/ipsim/internal/schema"
	"github.com/ps-ux/ipsim/internal/sim"
	"github.com/ps-ux/ipsim/internal/uaserver"
	"github.com/ps-ux/ipsim/internal/web"
)

// App represents the assembled simulator: information model, kernel,
// alarm engine, fan-out plane, and the served endpoints.
type App struct {
	config *config.Config
	logger *logrus.Logger

	engine      *sim.Engine
	alarmEngine *alarms.Engine
	broker      *fanout.Broker
	hub         *fanout.Hub
	uaServer    *uaserver.Server
	httpServer  *http.Server
}

// New creates a new application instance. Configuration errors are
// fatal at bootstrap.
func New(cfg *config.Config) *App {
	logger := logrus.StandardLogger()

	// Load and parse the information-model catalogs
	typeCatalog, err := schema.LoadTypesFile(cfg.Catalog.TypesPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load type catalog")
	}
	assetCatalog, err := schema.LoadAssetsFile(cfg.Catalog.AssetsPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load asset catalog")
	}

	// Build the address space
	builder := model.NewBuilder(typeCatalog, assetCatalog, logger)
	result, err := builder.Build()
	if err != nil {
		logger.WithError(err).Fatal("Failed to build information model")
	}

	// Create the simulation kernel
	params := sim.DefaultModeParameters()
	params.SimulationInterval = cfg.Simulation.IntervalMs
	params.TimeAcceleration = cfg.Simulation.TimeAcceleration

	seed := cfg.Simulation.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	logger.WithField("seed", seed).Info("Initializing simulation kernel")
	engine := sim.NewEngine(params, seed, logger)

	// Bind simulations and alarms to the simulated assets
	alarmEngine := alarms.NewEngine()
	for _, target := range result.Targets {
		switch {
		case typeInherits(typeCatalog, target.Type, "PumpType"):
			physics := sim.NewPhysics(sim.DesignPointFromSpecs(target.DesignSpecs), engine.RNG())
			pump := sim.NewPump(target.ID, target.Name, target.Node, physics)
			engine.AddPump(pump)

			monitor := alarms.NewMonitor(alarmEngine, target.ID)
			for _, alarmName := range target.Alarms {
				def, ok := typeCatalog.AlarmTypes[alarmName]
				if !ok {
					logger.WithFields(logrus.Fields{
						"asset": target.ID,
						"alarm": alarmName,
					}).Fatal("Asset references unknown alarm type")
				}
				monitor.RegisterFromDef(def)
			}
			engine.AttachMonitor(target.ID, monitor)

		case typeInherits(typeCatalog, target.Type, "ChamberType"):
			engine.AddChamber(sim.NewChamber(target.ID, target.Name, target.Node, engine.RNG()))
		}
	}

	// Bind control methods
	binder := methods.NewBinder(engine, logger)
	for _, pump := range engine.Pumps() {
		binder.BindPump(pump.Node(), pump.ID())
	}
	if simConfig, ok := result.Nodes["SimConfig"]; ok {
		binder.BindSimConfig(simConfig)
		binder.WatchConfig(result.Space, simConfig)
		logger.Info("Bound SimulationConfig methods")
	}

	// Fan-out plane
	var broker *fanout.Broker
	var publisher fanout.Publisher
	if cfg.Broker.Enabled {
		broker = fanout.NewBroker(fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port), logger)
		publisher = broker
	}
	hub := fanout.NewHub(func() interface{} { return engine.Snapshots() }, logger)
	plane := fanout.NewPlane(publisher, hub, logger)
	engine.SetBroadcaster(plane.Broadcast)
	engine.SetEventSink(plane.PublishEvent)

	// OPC-UA endpoint
	uaServer, err := uaserver.New(uaserver.Config{
		Host:     cfg.OPCUA.Host,
		Port:     cfg.OPCUA.Port,
		CertFile: cfg.OPCUA.CertFile,
		KeyFile:  cfg.OPCUA.KeyFile,
	}, result.Space, binder, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize OPC-UA server")
	}

	// WebSocket + status endpoints
	router := web.NewRouter(engine, alarmEngine, hub, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	// Share the kernel with the REST collaborator
	bridge.Register(engine)

	return &App{
		config:      cfg,
		logger:      logger,
		engine:      engine,
		alarmEngine: alarmEngine,
		broker:      broker,
		hub:         hub,
		uaServer:    uaServer,
		httpServer:  httpServer,
	}
}

// Run starts every endpoint and the simulation loop, then blocks until
// a shutdown signal arrives or the kernel ends.
func (a *App) Run() error {
	if a.broker != nil {
		if err := a.broker.Start(); err != nil {
			a.logger.WithError(err).Error("Could not start MQTT broker, continuing without it")
			a.broker = nil
		}
	}

	go func() {
		if err := a.uaServer.ListenAndServe(); err != nil {
			a.logger.WithError(err).Warn("OPC-UA server stopped")
		}
	}()

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.WithError(err).Warn("HTTP server stopped")
		}
	}()

	if a.config.Simulation.AutoStart {
		a.engine.StartAllPumps()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- a.engine.Run(ctx)
	}()

	a.logger.WithFields(logrus.Fields{
		"opcua": a.uaServer.EndpointURL(),
		"http":  a.httpServer.Addr,
	}).Info("Pump simulation server is running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		a.logger.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-engineDone:
		if err != nil && err != context.Canceled {
			a.logger.WithError(err).Error("Simulation engine ended with error")
		}
	}

	return a.shutdown()
}

// shutdown stops the kernel, drains fan-out, and closes the endpoints.
func (a *App) shutdown() error {
	a.engine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.WithError(err).Warn("HTTP server shutdown failed")
	}

	if err := a.uaServer.Close(); err != nil {
		a.logger.WithError(err).Warn("OPC-UA server close failed")
	}

	if a.broker != nil {
		a.broker.Close()
	}

	a.logger.Info("Shutdown complete")
	return nil
}

func typeInherits(catalog *schema.TypeCatalog, typeName, ancestor string) bool {
	for cur := typeName; cur != "" && cur != schema.BaseObjectType; {
		if cur == ancestor {
			return true
		}
		def, ok := catalog.Type(cur)
		if !ok {
			return false
		}
		cur = def.Base
	}
	return false
}
