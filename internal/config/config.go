// Package config holds the command-line configuration of the balancer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"ringproxy/internal/logging"
	"ringproxy/internal/membership"
	"ringproxy/internal/ring"
)

const (
	DefaultRingSize     = 512
	DefaultVirtualNodes = 9

	ProvisionerProcess   = "process"
	ProvisionerInProcess = "inprocess"
)

// Config holds the balancer configuration.
type Config struct {
	//
	// Listeners.
	//
	ListenAddr  string // HTTP API
	HealthAddr  string // gRPC health of the balancer, "" disables it
	MetricsAddr string // Prometheus and pprof, "" disables it
	EnablePprof bool
	//
	// Ring.
	//
	RingSize     int
	VirtualNodes int
	Hash         string
	//
	// Replicas.
	//
	Provisioner      string
	ReplicaBinary    string
	ReplicaLogDir    string
	ProvisionTimeout time.Duration
	InitialReplicas  int
	Hostnames        []string
	BatchPolicy      string
	Seed             int64 // 0 seeds random removal from the clock
	//
	// Health monitor.
	//
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	//
	// Diagnostics.
	//
	LogVerbosity int
	Development  bool

	hostnames string // raw --hostnames value, parsed in Complete
}

// NewConfig returns a Config initialized with default values.
func NewConfig() *Config {
	return &Config{
		ListenAddr:       ":5000",
		HealthAddr:       ":5001",
		MetricsAddr:      ":9090",
		RingSize:         DefaultRingSize,
		VirtualNodes:     DefaultVirtualNodes,
		Hash:             ring.HashMurmur3,
		Provisioner:      ProvisionerInProcess,
		ReplicaBinary:    "./replica",
		ReplicaLogDir:    ".local/replica-logs",
		ProvisionTimeout: 10 * time.Second,
		InitialReplicas:  3,
		BatchPolicy:      string(membership.PolicyContinue),
		ProbeInterval:    2 * time.Second,
		ProbeTimeout:     time.Second,
		LogVerbosity:     logging.DEFAULT,
	}
}

// AddFlags binds the Config fields to command-line flags on the given FlagSet.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	if fs == nil {
		fs = pflag.CommandLine
	}

	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Address of the HTTP API.")
	fs.StringVar(&c.HealthAddr, "grpc-health-listen", c.HealthAddr,
		"Address of the gRPC health service. Empty disables it.")
	fs.StringVar(&c.MetricsAddr, "metrics-listen", c.MetricsAddr,
		"Address of the Prometheus metrics endpoint. Empty disables it.")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", c.EnablePprof,
		"Serves pprof handlers on the metrics address.")

	fs.IntVar(&c.RingSize, "ring-size", c.RingSize, "Number of slots on the hash ring.")
	fs.IntVar(&c.VirtualNodes, "vnodes", c.VirtualNodes, "Number of ring slots claimed by each replica.")
	fs.StringVar(&c.Hash, "hash", c.Hash,
		fmt.Sprintf("Placement hash function, one of %s.", strings.Join(ring.HashNames, ", ")))

	fs.StringVar(&c.Provisioner, "provisioner", c.Provisioner,
		fmt.Sprintf("How replicas are started: %q runs the replica binary, %q serves them in this process.",
			ProvisionerProcess, ProvisionerInProcess))
	fs.StringVar(&c.ReplicaBinary, "replica-binary", c.ReplicaBinary, "Path of the replica binary.")
	fs.StringVar(&c.ReplicaLogDir, "replica-log-dir", c.ReplicaLogDir, "Directory for replica process logs.")
	fs.DurationVar(&c.ProvisionTimeout, "provision-timeout", c.ProvisionTimeout,
		"How long to wait for a new replica to report SERVING.")
	fs.IntVar(&c.InitialReplicas, "replicas", c.InitialReplicas, "Number of replicas started at boot.")
	fs.StringVar(&c.hostnames, "hostnames", c.hostnames,
		"Comma-separated hostnames of the boot replicas, e.g. \"s1,s2,s3\".")
	fs.StringVar(&c.BatchPolicy, "batch-policy", c.BatchPolicy,
		fmt.Sprintf("Add behaviour on partial failure, %q or %q.", membership.PolicyContinue, membership.PolicyRollback))
	fs.Int64Var(&c.Seed, "seed", c.Seed, "Seed of random removal. 0 seeds from the clock.")

	fs.DurationVar(&c.ProbeInterval, "probe-interval", c.ProbeInterval, "Interval between replica health probes.")
	fs.DurationVar(&c.ProbeTimeout, "probe-timeout", c.ProbeTimeout, "Timeout of one replica health probe.")

	fs.IntVarP(&c.LogVerbosity, "v", "v", c.LogVerbosity, "Number for the log level verbosity.")
	fs.BoolVar(&c.Development, "development", c.Development, "Use human-readable development logging.")
}

// Complete performs post-processing of parsed command-line arguments.
func (c *Config) Complete() error {
	if c.hostnames != "" {
		hostnames, err := ParseHostnames(c.hostnames)
		if err != nil {
			return err
		}
		c.Hostnames = hostnames
	}
	if len(c.Hostnames) > c.InitialReplicas {
		c.InitialReplicas = len(c.Hostnames)
	}
	c.Hash = strings.ToLower(strings.TrimSpace(c.Hash))
	return nil
}

// Validate checks the Config for invalid or conflicting values.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("invalid value for flag %q: must not be empty", "listen")
	}
	addrs := map[string]string{c.ListenAddr: "listen"}
	for _, ac := range []struct {
		name string
		addr string
	}{
		{"grpc-health-listen", c.HealthAddr},
		{"metrics-listen", c.MetricsAddr},
	} {
		if ac.addr == "" {
			continue
		}
		if other, exists := addrs[ac.addr]; exists {
			return fmt.Errorf("address conflict: %s and %s both use %s", other, ac.name, ac.addr)
		}
		addrs[ac.addr] = ac.name
	}

	if c.RingSize <= 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be > 0", c.RingSize, "ring-size")
	}
	if c.VirtualNodes <= 0 || c.VirtualNodes > c.RingSize {
		return fmt.Errorf("invalid value %d for flag %q: must be between 1 and ring-size (%d)", c.VirtualNodes, "vnodes", c.RingSize)
	}
	if _, err := ring.HashByName(c.Hash); err != nil {
		return err
	}

	switch c.Provisioner {
	case ProvisionerInProcess:
	case ProvisionerProcess:
		if c.ReplicaBinary == "" {
			return fmt.Errorf("flag %q is required with --provisioner=%s", "replica-binary", ProvisionerProcess)
		}
	default:
		return fmt.Errorf("invalid value %q for flag %q: expected %q or %q", c.Provisioner, "provisioner", ProvisionerProcess, ProvisionerInProcess)
	}
	if c.ProvisionTimeout <= 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be > 0", c.ProvisionTimeout, "provision-timeout")
	}
	if c.InitialReplicas < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", c.InitialReplicas, "replicas")
	}
	if need := c.InitialReplicas * c.VirtualNodes; need > c.RingSize {
		return fmt.Errorf("%d replicas need %d slots, ring has %d", c.InitialReplicas, need, c.RingSize)
	}
	if _, err := membership.ParseBatchPolicy(c.BatchPolicy); err != nil {
		return err
	}

	if c.ProbeInterval <= 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be > 0", c.ProbeInterval, "probe-interval")
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("invalid value %s for flag %q: must be >= 0", c.ProbeTimeout, "probe-timeout")
	}
	if c.LogVerbosity < 0 {
		return fmt.Errorf("invalid value %d for flag %q: must be >= 0", c.LogVerbosity, "v")
	}
	return nil
}

// ParseHostnames parses a comma-separated list of hostnames:
// "s1,s2,s3". Blank entries are skipped; duplicates are rejected.
func ParseHostnames(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}

	parts := strings.Split(s, ",")
	hostnames := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))

	for _, part := range parts {
		hostname := strings.TrimSpace(part)
		if hostname == "" {
			continue
		}
		if strings.ContainsAny(hostname, " /=") {
			return nil, fmt.Errorf("invalid hostname: %q", hostname)
		}
		if seen[hostname] {
			return nil, fmt.Errorf("duplicate hostname: %s", hostname)
		}
		seen[hostname] = true
		hostnames = append(hostnames, hostname)
	}

	return hostnames, nil
}

// InitialBatch returns the count and hostnames of the boot-time add.
func (c *Config) InitialBatch() (int, []string) {
	return c.InitialReplicas, append([]string(nil), c.Hostnames...)
}
