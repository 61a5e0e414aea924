// Package config loads quicroute's TOML configuration file (spec.md §6)
// into the values internal/worker.Config and cmd/quicrouted need, and
// watches the file for the hot-reloadable subset (RejectNewConnections,
// HealthCheckToken) to change without a restart.
//
// Grounded on dtn7-dtn7-gold/cmd/dtnd/configuration.go's tomlConfig shape
// (a top-level struct of nested block structs, decoded with
// github.com/BurntSushi/toml's toml.DecodeFile) and its logrus-tagged
// logging block; file-watch reload is new to this module since the
// teacher never hot-reloads.
package config

import (
	"encoding/hex"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"quicroute/internal/worker"
)

// fileConfig mirrors the on-disk TOML layout.
type fileConfig struct {
	Listen  listenConf
	Sibling siblingConf
	Forward forwardConf
	Routing routingConf
	Logging loggingConf
}

type listenConf struct {
	Addr string
}

type siblingConf struct {
	Addr string
}

// forwardConf configures the shared forwarding-inbox socket that receives
// takeover datagrams sent by a sibling process's Worker.forwardTo. It is
// distinct from siblingConf.Addr, which is the send side of the same
// handoff.
type forwardConf struct {
	ListenAddr string `toml:"listen-addr"`
}

type routingConf struct {
	SupportedVersions    []uint32 `toml:"supported-versions"`
	HostID               uint16   `toml:"host-id"`
	ProcessID            uint8    `toml:"process-id"`
	StatelessResetSecret string   `toml:"stateless-reset-secret"` // hex-encoded
	HealthCheckToken     string   `toml:"health-check-token"`
	PeerAckDelayExponent uint8    `toml:"peer-ack-delay-exponent"`
	MaxUDPPayload        int      `toml:"max-udp-payload"`
	RejectNewConnections bool     `toml:"reject-new-connections"`
	NumWorkers           int      `toml:"num-workers"`
}

type loggingConf struct {
	Level string
}

// Config is the decoded and validated configuration cmd/quicrouted wires
// into the rest of the process.
type Config struct {
	ListenAddr        string
	SiblingAddr       string
	ForwardListenAddr string
	NumWorkers        int
	LogLevel          log.Level
	Worker            worker.Config
}

// Load reads and validates path, returning every problem found via a
// single aggregated error instead of stopping at the first one, so an
// operator sees every misconfigured field in one pass.
func Load(path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return fromFile(fc)
}

func fromFile(fc fileConfig) (*Config, error) {
	var errs *multierror.Error

	if fc.Listen.Addr == "" {
		errs = multierror.Append(errs, fmt.Errorf("listen.addr must not be empty"))
	}
	if len(fc.Routing.SupportedVersions) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("routing.supported-versions must list at least one version"))
	}
	if fc.Routing.NumWorkers <= 0 {
		fc.Routing.NumWorkers = 1
	}
	if fc.Routing.MaxUDPPayload <= 0 {
		fc.Routing.MaxUDPPayload = 1200
	}

	var secret []byte
	if fc.Routing.StatelessResetSecret != "" {
		decoded, err := hex.DecodeString(fc.Routing.StatelessResetSecret)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("routing.stateless-reset-secret: %w", err))
		} else {
			secret = decoded
		}
	}

	level := log.InfoLevel
	if fc.Logging.Level != "" {
		parsed, err := log.ParseLevel(fc.Logging.Level)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("logging.level: %w", err))
		} else {
			level = parsed
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	var healthToken []byte
	if fc.Routing.HealthCheckToken != "" {
		healthToken = []byte(fc.Routing.HealthCheckToken)
	}

	return &Config{
		ListenAddr:        fc.Listen.Addr,
		SiblingAddr:       fc.Sibling.Addr,
		ForwardListenAddr: fc.Forward.ListenAddr,
		NumWorkers:        fc.Routing.NumWorkers,
		LogLevel:          level,
		Worker: worker.Config{
			SupportedVersions:    fc.Routing.SupportedVersions,
			HostID:               fc.Routing.HostID,
			ProcessID:            fc.Routing.ProcessID,
			StatelessResetSecret: secret,
			HealthCheckToken:     healthToken,
			PeerAckDelayExponent: fc.Routing.PeerAckDelayExponent,
			MaxUDPPayload:        fc.Routing.MaxUDPPayload,
			RejectNewConnections: fc.Routing.RejectNewConnections,
		},
	}, nil
}
