// Package config holds the Master and Agent's immutable configuration
// structs (spec §9: "a single immutable configuration struct passed
// into component constructors; no process-wide singletons").
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// MasterConfig configures the piccolod process.
type MasterConfig struct {
	GrpcAddr string `env:"PICCOLO_GRPC_ADDR" envDefault:"0.0.0.0:7100"`
	RestAddr string `env:"PICCOLO_REST_ADDR" envDefault:"0.0.0.0:7101"`

	KVStorePath string `env:"PICCOLO_KV_PATH" envDefault:"/var/lib/piccolo/kv.db"`

	HeartbeatInterval    time.Duration `env:"PICCOLO_HEARTBEAT_INTERVAL" envDefault:"30s"`
	LivenessScanInterval time.Duration `env:"PICCOLO_LIVENESS_SCAN_INTERVAL" envDefault:"10s"`
	FailureTimeout       time.Duration `env:"PICCOLO_FAILURE_TIMEOUT" envDefault:"5m"`

	MetadataFetchTimeout time.Duration `env:"PICCOLO_METADATA_FETCH_TIMEOUT" envDefault:"30s"`
	ReconcileBackoffCap  time.Duration `env:"PICCOLO_RECONCILE_BACKOFF_CAP" envDefault:"5m"`

	ActionControllerAddr string `env:"PICCOLO_ACTION_CONTROLLER_ADDR"`

	TLSCertFile string `env:"PICCOLO_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"PICCOLO_TLS_KEY_FILE"`

	LogLevel  string `env:"PICCOLO_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PICCOLO_LOG_FORMAT" envDefault:"console"`

	CORSAllowedOrigins []string `env:"PICCOLO_CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// LoadMasterConfig reads MasterConfig from the environment (spec §6's
// PICCOLO_* variables plus this project's own additions).
func LoadMasterConfig() (*MasterConfig, error) {
	cfg := &MasterConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse master config: %w", err)
	}
	return cfg, nil
}

// AgentConfig configures the piccolo-agent process (spec §4.7/§6).
type AgentConfig struct {
	MasterIP string `env:"PICCOLO_MASTER_IP,required"`
	NodeRole string `env:"PICCOLO_NODE_ROLE" envDefault:"Sub"`
	NodeName string `env:"PICCOLO_NODE_NAME"`

	HeartbeatInterval time.Duration `env:"PICCOLO_HEARTBEAT_INTERVAL" envDefault:"30s"`

	ContainerdSocket string `env:"PICCOLO_CONTAINERD_SOCKET"`

	TLSCertFile string `env:"PICCOLO_TLS_CERT_FILE"`
	TLSKeyFile  string `env:"PICCOLO_TLS_KEY_FILE"`

	LogLevel  string `env:"PICCOLO_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"PICCOLO_LOG_FORMAT" envDefault:"console"`
}

// LoadAgentConfig reads AgentConfig from the environment.
func LoadAgentConfig() (*AgentConfig, error) {
	cfg := &AgentConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse agent config: %w", err)
	}
	return cfg, nil
}

// GrpcAddr is where the agent dials the Master's ApiServerService.
func (c *AgentConfig) GrpcAddr() string {
	return fmt.Sprintf("%s:7100", c.MasterIP)
}
