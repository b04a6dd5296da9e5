package capture

import (
	"fmt"
	"sort"
	"strings"

	"rtrader-bridge/src/protocol"
)

type FilterSet struct {
	Capture []string `json:"capture"`
	Display []string `json:"display"`
}

// SuggestFilters builds capture (BPF) and display filters. Known endpoints
// give targeted filters; otherwise the generic gateway port list is used.
func SuggestFilters(endpoints []protocol.Endpoint, ports []int) FilterSet {
	var fs FilterSet

	if len(endpoints) > 0 {
		for _, ep := range endpoints {
			fs.Capture = append(fs.Capture, "host "+ep.Host)
			if ep.Port > 0 {
				fs.Capture = append(fs.Capture,
					fmt.Sprintf("tcp port %d", ep.Port),
					fmt.Sprintf("host %s and tcp port %d", ep.Host, ep.Port))
				fs.Display = append(fs.Display, fmt.Sprintf("ip.addr == %s && tcp.port == %d", ep.Host, ep.Port))
			} else {
				fs.Display = append(fs.Display, "ip.addr == "+ep.Host)
			}
		}
		return fs
	}

	if len(ports) == 0 {
		return fs
	}
	sorted := append([]int(nil), ports...)
	sort.Ints(sorted)

	parts := make([]string, 0, len(sorted))
	for _, p := range sorted {
		parts = append(parts, fmt.Sprintf("tcp port %d", p))
		fs.Display = append(fs.Display, fmt.Sprintf("tcp.port == %d", p))
	}
	fs.Capture = append(fs.Capture, strings.Join(parts, " or "))
	if len(sorted) > 1 {
		fs.Capture = append(fs.Capture, fmt.Sprintf("tcp portrange %d-%d", sorted[0], sorted[len(sorted)-1]))
	}
	return fs
}
