package config

import (
	"fmt"
	"sort"
	"strings"
)

// NetworkConfig describes a ledger network the bridge can talk to
type NetworkConfig struct {
	Name         string `yaml:"name" json:"name"`
	SS58Format   uint16 `yaml:"ss58_format" json:"ss58_format"`
	WebSocketURL string `yaml:"websocket_url" json:"websocket_url"`
	Currency     string `yaml:"currency" json:"currency"`
	Explorer     string `yaml:"explorer" json:"explorer"`
}

var networks = map[string]NetworkConfig{
	"goro": {
		Name:         "goro",
		SS58Format:   14697,
		WebSocketURL: "wss://main-00.goro.network:443",
		Currency:     "GORO",
		Explorer:     "https://goro.subscan.io",
	},
	"substrate": {
		Name:         "substrate",
		SS58Format:   42,
		WebSocketURL: "ws://127.0.0.1:9944",
		Currency:     "UNIT",
	},
	"rococo-contracts": {
		Name:         "rococo-contracts",
		SS58Format:   42,
		WebSocketURL: "wss://rococo-contracts-rpc.polkadot.io",
		Currency:     "ROC",
	},
}

// LookupNetwork returns the known network with the given name
func LookupNetwork(name string) (NetworkConfig, error) {
	n, ok := networks[strings.ToLower(name)]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("unknown network %q (known: %s)", name, strings.Join(NetworkNames(), ", "))
	}
	return n, nil
}

// NetworkNames lists the known networks
func NetworkNames() []string {
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
