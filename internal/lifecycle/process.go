package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"ringproxy/internal/logging"
	"ringproxy/internal/membership"
)

const readyPollInterval = 250 * time.Millisecond

// ProcessOptions configures a Process provisioner.
type ProcessOptions struct {
	BinaryPath   string        // replica executable
	LogDir       string        // one <hostname>.log per replica
	ReadyTimeout time.Duration // how long to wait for SERVING
	Checker      Checker       // nil creates a HealthChecker
	Logger       logr.Logger
}

// Process starts every replica as a child process running the replica binary.
type Process struct {
	opts   ProcessOptions
	logger logr.Logger

	mu    sync.Mutex
	procs map[string]*replicaProcess
}

type replicaProcess struct {
	cmd      *exec.Cmd
	logFile  *os.File
	endpoint membership.Endpoint
}

// NewProcess creates a process provisioner.
func NewProcess(opts ProcessOptions) (*Process, error) {
	if opts.BinaryPath == "" {
		return nil, fmt.Errorf("replica binary path is required")
	}
	if _, err := os.Stat(opts.BinaryPath); err != nil {
		return nil, fmt.Errorf("replica binary: %w", err)
	}
	if opts.LogDir == "" {
		opts.LogDir = filepath.Join(".local", "replica-logs")
	}
	if err := os.MkdirAll(opts.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 10 * time.Second
	}
	if opts.Checker == nil {
		opts.Checker = NewHealthChecker()
	}
	return &Process{
		opts:   opts,
		logger: opts.Logger.WithName("process"),
		procs:  make(map[string]*replicaProcess),
	}, nil
}

// Provision starts the replica binary and waits until its health service
// reports SERVING.
func (p *Process) Provision(ctx context.Context, hostname string) (membership.Endpoint, error) {
	p.mu.Lock()
	_, exists := p.procs[hostname]
	p.mu.Unlock()
	if exists {
		return membership.Endpoint{}, fmt.Errorf("replica %s is already running", hostname)
	}

	httpPort, err := freePort(loopback)
	if err != nil {
		return membership.Endpoint{}, err
	}
	healthPort, err := freePort(loopback)
	if err != nil {
		return membership.Endpoint{}, err
	}
	endpoint := membership.Endpoint{Address: loopback, Port: httpPort, HealthPort: healthPort}

	logPath := filepath.Join(p.opts.LogDir, hostname+".log")
	logFile, err := os.Create(logPath)
	if err != nil {
		return membership.Endpoint{}, fmt.Errorf("failed to create log file: %w", err)
	}

	// Not CommandContext: the replica must outlive the request that created it.
	cmd := exec.Command(p.opts.BinaryPath,
		"--hostname", hostname,
		"--listen", endpoint.HTTPAddr(),
		"--grpc-health-listen", endpoint.HealthAddr(),
		"--v", strconv.Itoa(logging.DEFAULT),
	)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return membership.Endpoint{}, fmt.Errorf("failed to start replica %s: %w", hostname, err)
	}

	proc := &replicaProcess{cmd: cmd, logFile: logFile, endpoint: endpoint}
	if err := WaitReady(ctx, p.opts.Checker, endpoint.HealthAddr(), p.opts.ReadyTimeout, readyPollInterval); err != nil {
		p.stop(proc)
		return membership.Endpoint{}, fmt.Errorf("replica %s failed to become ready: %w", hostname, err)
	}

	p.mu.Lock()
	p.procs[hostname] = proc
	p.mu.Unlock()

	p.logger.Info("Started replica process", "hostname", hostname, "pid", cmd.Process.Pid, "log", logPath)
	return endpoint, nil
}

// Decommission kills the replica process and reaps it. A process that
// cannot be killed stays tracked so that a later call can retry.
func (p *Process) Decommission(_ context.Context, hostname string) error {
	p.mu.Lock()
	proc, exists := p.procs[hostname]
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("replica %s is not running", hostname)
	}
	if err := p.stop(proc); err != nil {
		return fmt.Errorf("failed to stop replica %s: %w", hostname, err)
	}

	p.mu.Lock()
	if p.procs[hostname] == proc {
		delete(p.procs, hostname)
	}
	p.mu.Unlock()
	if hc, ok := p.opts.Checker.(*HealthChecker); ok {
		hc.Forget(proc.endpoint.HealthAddr())
	}
	p.logger.Info("Stopped replica process", "hostname", hostname)
	return nil
}

// stop kills and reaps the process. The log file is closed only once the
// process is gone.
func (p *Process) stop(proc *replicaProcess) error {
	if proc.cmd.Process != nil {
		if err := proc.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		// Wait reports the kill signal as an error; only reaping matters here.
		_ = proc.cmd.Wait()
	}
	proc.logFile.Close()
	return nil
}
