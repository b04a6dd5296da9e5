package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"rtrader-bridge/src/config"
	"rtrader-bridge/src/gateway"
	"rtrader-bridge/src/grpc_control"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/plugin"
	"rtrader-bridge/src/scanner"
	"rtrader-bridge/src/server"
	"rtrader-bridge/src/utils"

	"golang.org/x/sync/errgroup"
)

const cleanupInterval = time.Hour

// -----------------------------------------------------------------------------

// runServe starts the API, the gRPC health service and, when configured,
// the relay and the quote poller. The first failure stops everything.
func runServe(ctx context.Context, cfg *config.Config, appLogger *logger.Logger) error {
	db, err := setupDatabase(cfg.MConfig, appLogger)
	if err != nil {
		return err
	}
	defer db.Close()

	control := grpc_control.NewControlService(appLogger.Named("ControlService"),
		grpc_control.ComponentGateway, grpc_control.ComponentScanner,
		grpc_control.ComponentRelay, grpc_control.ComponentPoller, grpc_control.ComponentPlugin)
	buffer := utils.NewQuoteBuffer(cfg.Quotes.BufferSize)
	api := server.NewAPIServer(cfg.MConfig, appLogger.Named("APIServer"), db, buffer)

	g, gctx := errgroup.WithContext(ctx)

	// 1. REST + websocket API
	g.Go(func() error {
		return api.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		return api.Stop()
	})

	// 2. gRPC health + reflection
	grpcAddr := net.JoinHostPort(cfg.GrpcHost, strconv.Itoa(cfg.GrpcPort))
	ln, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		api.Stop()
		return fmt.Errorf("listen %s: %w", grpcAddr, err)
	}
	g.Go(func() error {
		return control.Serve(gctx, ln)
	})

	// 3. Relay between the front-end and its gateway
	if addr := cfg.Gateway.RelayListen; addr != "" {
		relay := setupRelay(cfg.MConfig, appLogger)
		relay.Observer = frameSaver(db, appLogger.Named("Frames"), api)
		g.Go(func() error {
			control.SetServing(grpc_control.ComponentRelay, true)
			defer control.SetServing(grpc_control.ComponentRelay, false)
			return relay.ListenAndServe(gctx, addr)
		})
	}

	// 4. Quote poller
	if cfg.Quotes.URL != "" {
		poller, err := setupPoller(cfg.MConfig, appLogger, db, api)
		if err != nil {
			api.Stop()
			ln.Close()
			return err
		}
		poller.Buffer = buffer
		g.Go(func() error {
			defer poller.Close()
			control.SetServing(grpc_control.ComponentPoller, true)
			defer control.SetServing(grpc_control.ComponentPoller, false)
			metrics, err := poller.Run(gctx)
			api.Broadcast(metrics)
			return err
		})
	}

	// 5. Localhost scan, once or every rescan_seconds
	g.Go(func() error {
		every := time.Duration(cfg.Scanner.RescanSeconds) * time.Second
		return runScans(gctx, scanner.OptionsFromConfig(cfg.Scanner), every, db, api, control, appLogger.Named("Scanner"))
	})

	// 6. One-shot gateway login check
	if cfg.Gateway.CheckOnServe {
		g.Go(func() error {
			checkGateway(gctx, gateway.OptionsFromConfig(cfg.Gateway), db, api, control, appLogger.Named("Gateway"))
			return nil
		})
	}

	// 7. Depth of market from the plugin socket
	if cfg.Plugin.Enabled {
		g.Go(func() error {
			return runPlugin(gctx, cfg.MConfig, db, api, control, appLogger.Named("Plugin"))
		})
	}

	// 8. Retention cleanup
	g.Go(func() error {
		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()
		for {
			if err := db.CleanupOldData(); err != nil {
				appLogger.Warning("Cleanup failed: %v", err)
			}
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})

	appLogger.Info("Bridge running: api %s:%d, grpc %s", cfg.Host, cfg.Port, grpcAddr)
	return g.Wait()
}

// -----------------------------------------------------------------------------

// runScans probes the localhost candidates, stores and pushes each report
// set, and marks the scanner healthy after every completed run.
func runScans(ctx context.Context, opts scanner.Options, every time.Duration, db interfaces.IDatabase,
	exchanger interfaces.IDataExchanger, control *grpc_control.ControlService, appLogger *logger.Logger) error {
	s := scanner.New(opts, appLogger)
	for {
		reports, err := s.Scan(ctx)
		if err != nil {
			return nil
		}
		control.SetServing(grpc_control.ComponentScanner, true)
		if db != nil {
			if err := db.SavePortReports(reports); err != nil {
				appLogger.Error("Failed to save scan: %v", err)
			}
		}
		exchanger.Broadcast(reports)
		appLogger.Info("Scan finished: %d of %d ports answered", len(scanner.Responsive(reports)), len(reports))

		if every <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(every):
		}
	}
}

// -----------------------------------------------------------------------------

// checkGateway runs the login handshake once and reports the gateway as
// serving when it completes. Frames are stored and pushed like relay frames.
func checkGateway(ctx context.Context, opts gateway.Options, db interfaces.IDatabase,
	exchanger interfaces.IDataExchanger, control *grpc_control.ControlService, appLogger *logger.Logger) {
	client := gateway.NewClient(opts, appLogger)
	client.SetObserver(frameSaver(db, appLogger, exchanger))
	defer client.Close()

	err := client.Dial(ctx)
	if err == nil {
		var res *gateway.HandshakeResult
		if res, err = client.Handshake(ctx); err == nil {
			appLogger.Info("Gateway handshake took %v, %d endpoints", res.Elapsed.Round(time.Millisecond), len(res.Endpoints))
		}
	}
	if err != nil {
		appLogger.Warning("Gateway check failed: %v", err)
	}
	control.SetServing(grpc_control.ComponentGateway, err == nil)
}

// -----------------------------------------------------------------------------

// runPlugin subscribes to depth for every configured symbol and polls each
// book into the quote sinks until ctx ends or the socket drops. A front-end
// that is not running only marks the plugin component down.
func runPlugin(ctx context.Context, cfg *models.MConfig, db interfaces.IDatabase,
	exchanger interfaces.IDataExchanger, control *grpc_control.ControlService, appLogger *logger.Logger) error {
	conn := plugin.NewConnector(plugin.OptionsFromConfig(cfg.Plugin), appLogger)
	book := plugin.NewBook(conn, cfg.Plugin.Exchange, cfg.Plugin.DepthLevels, appLogger.Named("DOM"))
	orders := plugin.NewOrderManager(conn, cfg.Plugin.Exchange, appLogger.Named("Orders"))

	if err := conn.Connect(ctx); err != nil {
		appLogger.Warning("Plugin socket unavailable: %v", err)
		control.SetServing(grpc_control.ComponentPlugin, false)
		return nil
	}
	defer conn.Close()

	for _, sym := range cfg.Plugin.Symbols {
		if err := book.Subscribe(sym); err != nil {
			appLogger.Warning("Subscribe %s failed: %v", sym, err)
			return nil
		}
	}
	control.SetServing(grpc_control.ComponentPlugin, true)
	defer control.SetServing(grpc_control.ComponentPlugin, false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-conn.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(runCtx)
	for _, sym := range cfg.Plugin.Symbols {
		poller := setupBookPoller(cfg, book.Reader(sym), appLogger.Named(sym), db, exchanger)
		g.Go(func() error {
			defer poller.Close()
			_, err := poller.Run(gctx)
			return err
		})
	}
	err := g.Wait()

	if ctx.Err() == nil {
		appLogger.Warning("Plugin socket lost: %v", conn.Err())
	}
	for sym, p := range orders.Positions() {
		appLogger.Info("Position %s = %d @ %s", sym, p.Quantity, p.AveragePrice)
	}
	return err
}
