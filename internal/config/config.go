// Package config loads the cluster configuration file and builds the
// per-node logger, following the defaulting pattern of the teacher's
// internal/log.Config/NewLog and the original's nidus/config.py base-config
// merge (§4.J).
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	// DefaultHeartbeatInterval matches the original's base config.
	DefaultHeartbeatInterval = 0.05
	// DefaultPageSize matches §3's Page layout default.
	DefaultPageSize = 2048
	// DefaultStorageDir keeps on-disk files next to the working directory
	// when the config omits one.
	DefaultStorageDir = "."
)

// NodeAddr is a (host, port) pair, decoded from a 2-element JSON array per
// spec.md §6's cluster address shape.
type NodeAddr struct {
	Host string
	Port int
}

func (a NodeAddr) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]any{a.Host, a.Port})
}

func (a *NodeAddr) UnmarshalJSON(data []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("config: decode node address: %w", err)
	}
	if err := json.Unmarshal(pair[0], &a.Host); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Port)
}

func (a NodeAddr) String() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// Config is the cluster-wide configuration loaded from a JSON file
// (spec.md §6).
type Config struct {
	Cluster           map[string]NodeAddr `json:"cluster"`
	HeartbeatInterval float64             `json:"heartbeat_interval"`
	StorageDir        string              `json:"storage_dir"`
	PageSize          int                 `json:"page_size"`
}

// Load reads and decodes a cluster config file, applying defaults the way
// the teacher's NewLog defaults MaxStoreBytes/MaxIndexBytes when zero.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.setDefaults()

	if len(c.Cluster) == 0 {
		return nil, fmt.Errorf("config: %s: cluster must name at least one node", path)
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.StorageDir == "" {
		c.StorageDir = DefaultStorageDir
	}
}

// Peers returns every node id in the cluster other than self.
func (c *Config) Peers(self string) []string {
	peers := make([]string, 0, len(c.Cluster)-1)
	for id := range c.Cluster {
		if id != self {
			peers = append(peers, id)
		}
	}
	return peers
}

// NodeIDs returns every node id in the cluster, including self, in no
// particular order.
func (c *Config) NodeIDs() []string {
	ids := make([]string, 0, len(c.Cluster))
	for id := range c.Cluster {
		ids = append(ids, id)
	}
	return ids
}
