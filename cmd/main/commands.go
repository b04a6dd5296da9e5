package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"rtrader-bridge/src/capture"
	"rtrader-bridge/src/config"
	"rtrader-bridge/src/credentials"
	"rtrader-bridge/src/gateway"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/plugin"
	"rtrader-bridge/src/protocol"
	"rtrader-bridge/src/scanner"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/default.yaml"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
	log        *logger.Logger
}

// -----------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:          "rtrader-bridge",
		Short:        "Investigation tooling for the R|Trader Pro vendor protocol",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd.Flags().Changed("config"))
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", defaultConfigPath, "path to config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log_level (DEBUG, INFO)")

	root.AddCommand(
		a.analyzeCmd(),
		a.decodeCmd(),
		a.scanCmd(),
		a.connectCmd(),
		a.relayCmd(),
		a.captureCmd(),
		a.pollCmd(),
		a.serveCmd(),
		a.pluginCmd(),
		a.credentialsCmd(),
	)
	return root
}

// load reads the config file. A missing default file falls back to the
// built-in defaults; a missing explicit file is an error.
func (a *app) load(explicit bool) error {
	cfg, err := config.NewConfig(a.configPath)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}
	if a.logLevel != "" {
		cfg.LogLevel = strings.ToUpper(a.logLevel)
	}
	a.cfg = cfg
	a.log = logger.NewLogger(cfg.MConfig, cfg.Name)
	return nil
}

// -----------------------------------------------------------------------------

func (a *app) analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Decode the reference capture of the gateway login sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			samples := []struct{ label, hex string }{
				{"Initial ping (client->server)", protocol.SamplePingHex},
				{"Server response", protocol.SampleUnknownRequestHex},
				{"Login agent repository (client->server)", protocol.SampleLoginAgentRepository},
			}

			var endpoints []protocol.Endpoint
			for _, s := range samples {
				f, err := protocol.DecodeHex(s.hex)
				if err != nil {
					return err
				}
				printFrame(out, s.label, f)
				endpoints = append(endpoints, f.ExtractEndpoints()...)
			}

			fmt.Fprintln(out, "\nConnection sequence:")
			fmt.Fprintln(out, "  1. send ping, expect \"unknown request\"")
			fmt.Fprintln(out, "  2. send login_agent_repository with unix timestamp, session id and repository")
			fmt.Fprintln(out, "  3. the reply carries the gateway endpoints; authentication happens after that")
			printFilters(out, capture.SuggestFilters(endpoints, a.cfg.Capture.Ports))
			return nil
		},
	}
}

// -----------------------------------------------------------------------------

func (a *app) decodeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "decode <hex>...",
		Short: "Decode hex-encoded frames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var failed int
			for i, h := range args {
				f, err := protocol.DecodeHex(h)
				if err != nil {
					a.log.Error("Frame %d: %v", i+1, err)
					failed++
					continue
				}
				if asJSON {
					data, err := json.MarshalIndent(f, "", "  ")
					if err != nil {
						return err
					}
					fmt.Fprintln(out, string(data))
					continue
				}
				printFrame(out, fmt.Sprintf("Frame %d", i+1), f)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d frames could not be decoded", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print frames as JSON")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) scanCmd() *cobra.Command {
	var (
		ports    []int
		families []string
		save     bool
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Probe localhost ports for the front-end's plugin interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := scanner.OptionsFromConfig(a.cfg.Scanner)
			if len(ports) > 0 {
				opts.Ports = ports
			}
			if len(families) > 0 {
				opts.Families = families
			}

			s := scanner.New(opts, a.log.Named("Scanner"))
			reports, err := s.Scan(cmd.Context())
			printReports(cmd.OutOrStdout(), reports)

			if save {
				db, dbErr := setupDatabase(a.cfg.MConfig, a.log)
				if dbErr != nil {
					return dbErr
				}
				defer db.Close()
				if dbErr := db.SavePortReports(reports); dbErr != nil {
					return dbErr
				}
			}
			return err
		},
	}
	cmd.Flags().IntSliceVar(&ports, "ports", nil, "ports to scan (default from config)")
	cmd.Flags().StringSliceVar(&families, "families", nil, "probe families: json, binary, http, broadcast, keepalive")
	cmd.Flags().BoolVar(&save, "save", true, "store the reports in the database")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) connectCmd() *cobra.Command {
	var listen time.Duration
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Run the known login sequence against the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			db, err := setupDatabase(a.cfg.MConfig, a.log)
			if err != nil {
				return err
			}
			defer db.Close()

			client := gateway.NewClient(gateway.OptionsFromConfig(a.cfg.Gateway), a.log.Named("Gateway"))
			client.SetObserver(frameSaver(db, a.log, nil))
			defer client.Close()

			if err := client.Dial(ctx); err != nil {
				return err
			}
			res, err := client.Handshake(ctx)
			if res != nil && res.PingReply != nil {
				printFrame(out, "Ping reply", res.PingReply)
			}
			if err != nil {
				return err
			}
			printFrame(out, "Login reply", res.LoginReply)
			fmt.Fprintf(out, "\nHandshake finished in %v\n", res.Elapsed.Round(time.Millisecond))
			printEndpoints(out, res.Endpoints)
			printFilters(out, capture.SuggestFilters(res.Endpoints, a.cfg.Capture.Ports))

			if listen <= 0 {
				return nil
			}
			return listenFor(ctx, client, listen, out)
		},
	}
	cmd.Flags().DurationVar(&listen, "listen", 0, "keep reading frames for this long after the handshake")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) relayCmd() *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward the front-end's gateway connection and decode every frame",
		RunE: func(cmd *cobra.Command, args []string) error {
			if listenAddr == "" {
				listenAddr = a.cfg.Gateway.RelayListen
			}
			db, err := setupDatabase(a.cfg.MConfig, a.log)
			if err != nil {
				return err
			}
			defer db.Close()

			relay := setupRelay(a.cfg.MConfig, a.log)
			relay.Observer = frameSaver(db, a.log, nil)
			err = relay.ListenAndServe(cmd.Context(), listenAddr)

			sessions, frames := relay.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "Relayed %d frames over %d sessions\n", frames, sessions)
			return err
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "local address the front-end connects to (default gateway.relay_listen)")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) captureCmd() *cobra.Command {
	var (
		ports []int
		save  bool
	)
	cmd := &cobra.Command{
		Use:   "capture <file.pcap>...",
		Short: "Extract and decode vendor frames from pcap files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := capture.Options{
				Ports:         a.cfg.Capture.Ports,
				Hosts:         a.cfg.Capture.Hosts,
				MaxFrameBytes: a.cfg.Gateway.MaxFrameBytes,
			}
			if cmd.Flags().Changed("ports") {
				opts.Ports = ports
			}

			var all []models.MCapturedFrame
			for _, path := range args {
				res, err := capture.ReadFile(path, opts)
				if err != nil {
					a.log.Error("%s: %v", path, err)
					continue
				}
				a.log.Info("%s: %d packets, %d TCP segments, %d frames, %d leftover bytes",
					path, res.Packets, res.TCPSegments, len(res.Frames), res.Leftover)
				for _, e := range res.Errors {
					a.log.Warning("%s: %s", path, e)
				}
				printCapturedFrames(out, res.Frames)
				all = append(all, res.Frames...)
			}

			if save && len(all) > 0 {
				db, err := setupDatabase(a.cfg.MConfig, a.log)
				if err != nil {
					return err
				}
				defer db.Close()
				if err := db.SaveFrames(all); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntSliceVar(&ports, "ports", nil, "server ports to follow, empty for all (default from config)")
	cmd.Flags().BoolVar(&save, "save", true, "store decoded frames in the database")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) pollCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the top of book and record every bid/ask change",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" {
				a.cfg.Quotes.URL = url
			}
			db, err := setupDatabase(a.cfg.MConfig, a.log)
			if err != nil {
				return err
			}
			defer db.Close()

			poller, err := setupPoller(a.cfg.MConfig, a.log, db, nil)
			if err != nil {
				return err
			}
			defer poller.Close()

			metrics, err := poller.Run(cmd.Context())
			printMetrics(cmd.OutOrStdout(), metrics)
			return err
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "quote endpoint (default quotes.url)")
	return cmd
}

// -----------------------------------------------------------------------------

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the gRPC health service, the relay and the poller together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), a.cfg, a.log)
		},
	}
}

// -----------------------------------------------------------------------------

func (a *app) pluginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugin",
		Short: "Talk to the front-end's local plugin websocket",
	}
	cmd.AddCommand(a.pluginDOMCmd(), a.pluginOrderCmd(), a.pluginCancelCmd())
	return cmd
}

func (a *app) dialPlugin(cmd *cobra.Command) (*plugin.Connector, error) {
	conn := plugin.NewConnector(plugin.OptionsFromConfig(a.cfg.Plugin), a.log.Named("Plugin"))
	if err := conn.Connect(cmd.Context()); err != nil {
		return nil, err
	}
	return conn, nil
}

// waitPlugin keeps the socket open for d so replies can arrive.
func waitPlugin(ctx context.Context, conn *plugin.Connector, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-conn.Done():
	case <-time.After(d):
	}
}

func (a *app) pluginDOMCmd() *cobra.Command {
	var (
		symbols []string
		listen  time.Duration
		levels  int
	)
	cmd := &cobra.Command{
		Use:   "dom",
		Short: "Subscribe to depth of market and print the book",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(symbols) > 0 {
				a.cfg.Plugin.Symbols = symbols
			}
			conn, err := a.dialPlugin(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()

			book := plugin.NewBook(conn, a.cfg.Plugin.Exchange, a.cfg.Plugin.DepthLevels, a.log.Named("DOM"))
			for _, sym := range a.cfg.Plugin.Symbols {
				if err := book.Subscribe(sym); err != nil {
					return err
				}
			}
			waitPlugin(cmd.Context(), conn, listen)

			out := cmd.OutOrStdout()
			for _, sym := range a.cfg.Plugin.Symbols {
				snap, ok := book.Get(sym)
				if !ok {
					fmt.Fprintf(out, "%s: no depth received\n", sym)
					continue
				}
				printDOM(out, snap, levels)
			}
			return conn.Err()
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to subscribe (default plugin.symbols)")
	cmd.Flags().DurationVar(&listen, "listen", 10*time.Second, "how long to collect depth")
	cmd.Flags().IntVar(&levels, "levels", 5, "levels per side to print")
	return cmd
}

func (a *app) pluginOrderCmd() *cobra.Command {
	var (
		symbol, side        string
		qty                 int64
		limit, stop, target string
		wait                time.Duration
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place a market, limit or bracket order",
		Long: "Without --limit the order is a market order. --stop and --target turn a\n" +
			"limit order into a bracket.",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := plugin.ParseSide(side)
			if err != nil {
				return err
			}
			prices, err := parsePrices(limit, stop, target)
			if err != nil {
				return err
			}
			if (stop == "") != (target == "") || (stop != "" && limit == "") {
				return fmt.Errorf("a bracket needs --limit, --stop and --target")
			}

			conn, err := a.dialPlugin(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()
			orders := plugin.NewOrderManager(conn, a.cfg.Plugin.Exchange, a.log.Named("Orders"))

			var id string
			switch {
			case stop != "":
				id, err = orders.PlaceBracket(symbol, qty, s, prices[0], prices[1], prices[2])
			case limit != "":
				id, err = orders.PlaceLimit(symbol, qty, s, prices[0])
			default:
				id, err = orders.PlaceMarket(symbol, qty, s)
			}
			if err != nil {
				return err
			}
			waitPlugin(cmd.Context(), conn, wait)

			out := cmd.OutOrStdout()
			if o, ok := orders.Order(id); ok {
				fmt.Fprintf(out, "%s %s: status %s, filled %d\n", o.Type, id, o.Status, o.FilledQty)
			}
			printPositions(out, orders.Positions())
			return nil
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "contract, e.g. MNQZ24")
	cmd.Flags().StringVar(&side, "side", "", "buy or sell")
	cmd.Flags().Int64Var(&qty, "qty", 1, "contracts")
	cmd.Flags().StringVar(&limit, "limit", "", "limit or bracket entry price")
	cmd.Flags().StringVar(&stop, "stop", "", "bracket stop loss price")
	cmd.Flags().StringVar(&target, "target", "", "bracket take profit price")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for status and fills")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("side")
	return cmd
}

// parsePrices parses the non-empty values; empty ones stay zero.
func parsePrices(values ...string) ([]decimal.Decimal, error) {
	out := make([]decimal.Decimal, len(values))
	for i, v := range values {
		if v == "" {
			continue
		}
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", v, err)
		}
		out[i] = d
	}
	return out, nil
}

func (a *app) pluginCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Request cancellation of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := a.dialPlugin(cmd)
			if err != nil {
				return err
			}
			defer conn.Close()
			orders := plugin.NewOrderManager(conn, a.cfg.Plugin.Exchange, a.log.Named("Orders"))
			return orders.Cancel(args[0])
		},
	}
}

// -----------------------------------------------------------------------------

func (a *app) credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Credential templates and environment checks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "template",
		Short: "Print a credentials YAML template",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := credentials.Template()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	})

	var file string
	check := &cobra.Command{
		Use:   "check",
		Short: "Load credentials from a file or the environment and validate them",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				c   *credentials.Credentials
				err error
			)
			if file != "" {
				c, err = credentials.LoadFile(file)
			} else {
				c, err = credentials.FromEnv()
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), c.String())
			if err := c.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "credentials complete for a direct gateway login")
			return nil
		},
	}
	check.Flags().StringVar(&file, "file", "", "credentials YAML file (default: environment)")
	cmd.AddCommand(check)
	return cmd
}
