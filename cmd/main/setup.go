package main

import (
	"net"
	"strconv"
	"time"

	"rtrader-bridge/src/gateway"
	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/network"
	"rtrader-bridge/src/quotes"
	"rtrader-bridge/src/storage"
	"rtrader-bridge/src/utils"
)

// -----------------------------------------------------------------------------

// setupDatabase opens the configured store and creates its tables.
func setupDatabase(config *models.MConfig, appLogger *logger.Logger) (interfaces.IDatabase, error) {
	db, err := storage.Open(config, appLogger)
	if err != nil {
		appLogger.Error("Failed to init db: %v", err)
		return nil, err
	}
	return db, nil
}

// -----------------------------------------------------------------------------

// setupNetwork initializes the HTTP client used by the quote reader.
func setupNetwork(config *models.MConfig, appLogger *logger.Logger) interfaces.INetworkManager {
	return network.NewHTTPNetworkManager(config, appLogger.Named("NetworkManager"))
}

// -----------------------------------------------------------------------------

// setupPoller wires the quote reader to the CSV file, the database and,
// when given, the websocket hub.
func setupPoller(config *models.MConfig, appLogger *logger.Logger, db interfaces.IDatabase, exchanger interfaces.IDataExchanger) (*quotes.Poller, error) {
	q := config.Quotes
	reader := quotes.NewHTTPQuoteReader(setupNetwork(config, appLogger), q.URL, q.Symbol)

	var sinks []interfaces.IQuoteSink
	if q.CSVPath != "" {
		csvSink, err := quotes.NewCSVSink(q.CSVPath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, csvSink)
	}
	if q.Persist && db != nil {
		sinks = append(sinks, quotes.StorageSink{DB: db})
	}
	if exchanger != nil {
		sinks = append(sinks, quotes.BroadcastSink{Exchanger: exchanger})
	}

	pollLogger := appLogger.Named("Poller")
	poller := quotes.NewPoller(reader, time.Duration(q.IntervalMs)*time.Millisecond, pollLogger, sinks...)
	poller.Buffer = utils.NewQuoteBuffer(q.BufferSize)
	if q.MarketHoursOnly {
		poller.Scheduler = utils.NewMarketScheduler(q.MarketMIC, true, pollLogger)
	}
	return poller, nil
}

// -----------------------------------------------------------------------------

// setupBookPoller polls one symbol of the plugin depth book. Updates go to
// the database and the hub; the CSV file belongs to the HTTP poller.
func setupBookPoller(config *models.MConfig, reader interfaces.IQuoteReader, appLogger *logger.Logger, db interfaces.IDatabase, exchanger interfaces.IDataExchanger) *quotes.Poller {
	var sinks []interfaces.IQuoteSink
	if config.Quotes.Persist && db != nil {
		sinks = append(sinks, quotes.StorageSink{DB: db})
	}
	if exchanger != nil {
		sinks = append(sinks, quotes.BroadcastSink{Exchanger: exchanger})
	}
	poller := quotes.NewPoller(reader, time.Duration(config.Quotes.IntervalMs)*time.Millisecond, appLogger, sinks...)
	poller.Buffer = utils.NewQuoteBuffer(config.Quotes.BufferSize)
	return poller
}

// -----------------------------------------------------------------------------

func setupRelay(config *models.MConfig, appLogger *logger.Logger) *gateway.Relay {
	g := config.Gateway
	upstream := net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
	return gateway.NewRelay(upstream, time.Duration(g.TimeoutSeconds)*time.Second, g.MaxFrameBytes, appLogger.Named("Relay"))
}

// -----------------------------------------------------------------------------

// frameSaver stores each observed frame and pushes it to the hub. Storage
// failures are logged; observation never blocks the session.
func frameSaver(db interfaces.IDatabase, appLogger *logger.Logger, exchanger interfaces.IDataExchanger) gateway.FrameObserver {
	return func(f models.MCapturedFrame) {
		appLogger.Debug("%s %s -> %s: %s", f.Direction, f.Source, f.Destination, f.Summary)
		if db != nil {
			if err := db.SaveFrames([]models.MCapturedFrame{f}); err != nil {
				appLogger.Error("Failed to save frame: %v", err)
			}
		}
		if exchanger != nil {
			exchanger.Broadcast(f)
		}
	}
}
