// Package stage defines the nodes of the query pipeline and the static
// table of which tools each specialist may call.
package stage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Stage names a node of the orchestration graph.
type Stage string

// Pipeline stages. Only the four specialists appear in the capability table.
const (
	Router          Stage = "router"
	Discovery       Stage = "discovery"
	Troubleshooting Stage = "troubleshooting"
	Compliance      Stage = "compliance"
	Security        Stage = "security"
	Synthesis       Stage = "synthesis"
)

// ErrUnknownStage is returned when a name is not one of the specialist stages.
var ErrUnknownStage = errors.New("unknown stage")

// Specialists lists the specialist stages in a stable order.
func Specialists() []Stage {
	return []Stage{Discovery, Troubleshooting, Compliance, Security}
}

// IsSpecialist reports whether s is one of the four specialist stages.
func (s Stage) IsSpecialist() bool {
	switch s {
	case Discovery, Troubleshooting, Compliance, Security:
		return true
	}
	return false
}

// Parse normalizes name (trimmed, lower-cased) and returns the matching
// specialist stage, or ErrUnknownStage.
func Parse(name string) (Stage, error) {
	s := Stage(strings.ToLower(strings.TrimSpace(name)))
	if !s.IsSpecialist() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStage, name)
	}
	return s, nil
}

// Capabilities maps each specialist stage to the set of tool names it may call.
// A stage absent from the table gets no tools.
type Capabilities map[Stage]map[string]struct{}

// NewCapabilities builds a capability table from stage name to tool names.
// Unknown stage names and empty tool names are rejected.
func NewCapabilities(table map[string][]string) (Capabilities, error) {
	caps := make(Capabilities, len(table))
	for name, tools := range table {
		s, err := Parse(name)
		if err != nil {
			return nil, fmt.Errorf("capabilities: %w", err)
		}
		set := make(map[string]struct{}, len(tools))
		for _, t := range tools {
			t = strings.TrimSpace(t)
			if t == "" {
				return nil, fmt.Errorf("capabilities: empty tool name for stage %s", s)
			}
			set[t] = struct{}{}
		}
		caps[s] = set
	}
	return caps, nil
}

// Allows reports whether stage s may call tool.
func (c Capabilities) Allows(s Stage, tool string) bool {
	_, ok := c[s][tool]
	return ok
}

// Tools returns the sorted tool names permitted for s.
func (c Capabilities) Tools(s Stage) []string {
	names := make([]string, 0, len(c[s]))
	for n := range c[s] {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Merge returns a copy of c where every stage present in override
// replaces the default set entirely.
func (c Capabilities) Merge(override Capabilities) Capabilities {
	out := make(Capabilities, len(c))
	for s, set := range c {
		out[s] = set
	}
	for s, set := range override {
		out[s] = set
	}
	return out
}

// DefaultCapabilities is the built-in allow-list. Meraki tools use the
// Meraki Dashboard operation ids; ThousandEyes tools use snake_case names.
func DefaultCapabilities() Capabilities {
	caps, err := NewCapabilities(map[string][]string{
		string(Discovery): {
			"getOrganizations",
			"getOrganizationNetworks",
			"getOrganizationDevices",
			"getNetwork",
			"getNetworkDevices",
			"getNetworkClients",
			"getNetworkWirelessSsids",
			"getDevice",
			"call_meraki_api",
			"get_account_groups",
			"list_network_app_synthetics_tests",
			"list_cloud_enterprise_agents",
			"list_endpoint_agents",
		},
		string(Troubleshooting): {
			"getOrganizationNetworks",
			"getNetworkDevices",
			"getNetworkClients",
			"getNetworkEvents",
			"getNetworkWirelessSsids",
			"getDevice",
			"call_meraki_api",
			"list_network_app_synthetics_tests",
			"get_network_app_synthetics_test",
			"get_network_app_synthetics_metrics",
			"get_endpoint_agent_metrics",
			"get_anomalies",
			"list_alerts",
			"get_path_visualization_results",
			"get_full_path_visualization",
			"list_cloud_enterprise_agents",
			"list_endpoint_agents",
		},
		string(Security): {
			"getOrganizationNetworks",
			"getNetworkDevices",
			"getNetworkEvents",
			"getDevice",
			"call_meraki_api",
			"list_alerts",
			"get_alert",
			"list_events",
			"get_event",
			"search_outages",
			"get_anomalies",
		},
		string(Compliance): {
			"getOrganizationNetworks",
			"getOrganizationDevices",
			"getNetworkDevices",
			"getNetworkWirelessSsids",
			"getDeviceSwitchPorts",
			"getDevice",
			"call_meraki_api",
		},
	})
	if err != nil {
		panic(err)
	}
	return caps
}
