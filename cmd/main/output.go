package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"rtrader-bridge/src/capture"
	"rtrader-bridge/src/gateway"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/plugin"
	"rtrader-bridge/src/protocol"
	"rtrader-bridge/src/scanner"
)

// -----------------------------------------------------------------------------

func printFrame(w io.Writer, label string, f *protocol.Frame) {
	fmt.Fprintf(w, "\n%s\n", label)
	fmt.Fprintf(w, "  type 0x%04x, length %d, %d of %d fields", f.Type, f.DeclaredLength, len(f.Fields), f.DeclaredFields)
	if f.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
	if t := f.Template(); t != "" {
		fmt.Fprintf(w, "  template %s\n", t)
	}
	for i, fld := range f.Fields {
		fmt.Fprintf(w, "  [%d] %s %-6s %s\n", i, fld.Tag, fld.Value.Kind, fld.Value)
	}
}

func printEndpoints(w io.Writer, endpoints []protocol.Endpoint) {
	if len(endpoints) == 0 {
		fmt.Fprintln(w, "No gateway endpoints in reply")
		return
	}
	fmt.Fprintln(w, "Gateway endpoints:")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %s\n", ep)
	}
}

func printFilters(w io.Writer, fs capture.FilterSet) {
	fmt.Fprintln(w, "\nCapture filters:")
	for _, f := range fs.Capture {
		fmt.Fprintf(w, "  %s\n", f)
	}
	fmt.Fprintln(w, "Display filters:")
	for _, f := range fs.Display {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

// -----------------------------------------------------------------------------

func printReports(w io.Writer, reports []models.MPortReport) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tOPEN\tFAMILY\tTEMPLATE\tCLASS\tDETAIL")
	for _, r := range reports {
		if !r.Open {
			fmt.Fprintf(tw, "%d\tno\t\t\t\t\n", r.Port)
			continue
		}
		for _, p := range r.Probes {
			detail := p.Description
			if p.Error != "" {
				detail = p.Error
			}
			fmt.Fprintf(tw, "%d\tyes\t%s\t%s\t%s\t%s\n", r.Port, p.Family, p.Template, p.Classification, detail)
		}
	}
	tw.Flush()

	responsive := scanner.Responsive(reports)
	fmt.Fprintf(w, "\n%d of %d ports answered a probe\n", len(responsive), len(reports))
}

func printCapturedFrames(w io.Writer, frames []models.MCapturedFrame) {
	for _, f := range frames {
		flag := ""
		if f.Truncated {
			flag = " [truncated]"
		}
		fmt.Fprintf(w, "%s %s %s -> %s%s\n  %s\n",
			f.Timestamp.Format(time.RFC3339Nano), f.Direction, f.Source, f.Destination, flag, f.Summary)
	}
}

func printMetrics(w io.Writer, m models.MPollMetrics) {
	fmt.Fprintf(w, "reads %d, updates %d, errors %d, skipped %d, spread mean %.4f std %.4f\n",
		m.Reads, m.Updates, m.Errors, m.Skipped, m.SpreadMean, m.SpreadStd)
}

// -----------------------------------------------------------------------------

// listenFor prints every frame the gateway pushes until d elapses.
func listenFor(ctx context.Context, client *gateway.Client, d time.Duration, w io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	in, err := client.Listen(ctx)
	if err != nil {
		return err
	}
	var n int
	for item := range in {
		if item.Err != nil {
			return item.Err
		}
		n++
		printFrame(w, fmt.Sprintf("Pushed frame %d at %s", n, item.At.Format(time.TimeOnly)), item.Frame)
	}
	fmt.Fprintf(w, "\n%d frames in %v\n", n, d)
	return nil
}

// -----------------------------------------------------------------------------

// printDOM shows asks above bids, best prices next to the separator.
func printDOM(w io.Writer, snap plugin.Snapshot, levels int) {
	fmt.Fprintf(w, "\n=== %s DOM ===\n", snap.Symbol)
	asks := snap.Asks[:min(levels, len(snap.Asks))]
	for i := len(asks) - 1; i >= 0; i-- {
		fmt.Fprintf(w, "  ask %10s | %6d\n", asks[i].Price, asks[i].Size)
	}
	fmt.Fprintln(w, "  --------------------------")
	for _, l := range snap.Bids[:min(levels, len(snap.Bids))] {
		fmt.Fprintf(w, "  bid %10s | %6d\n", l.Price, l.Size)
	}
	if snap.BBA != nil {
		fmt.Fprintf(w, "  best bid %s (%d) | ask %s (%d)\n", snap.BBA.BidPrice, snap.BBA.BidSize, snap.BBA.AskPrice, snap.BBA.AskSize)
	}
}

func printPositions(w io.Writer, positions map[string]plugin.Position) {
	if len(positions) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tPOSITION\tAVG PRICE\tUNREALIZED")
	for _, sym := range slices.Sorted(maps.Keys(positions)) {
		p := positions[sym]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", p.Symbol, p.Quantity, p.AveragePrice, p.UnrealizedPnL)
	}
	tw.Flush()
}
