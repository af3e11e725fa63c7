// Package supervisor owns the local llama-server child process: it checks
// preconditions, spawns the server, drains its output, notices when it dies,
// and shuts it down.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lazypower/parley/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultStartGrace is how long a fresh child must survive before it
	// counts as running.
	DefaultStartGrace = 2 * time.Second
	// DefaultStopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	DefaultStopTimeout = 5 * time.Second
)

var (
	ErrDisabled          = errors.New("llama-server auto start disabled")
	ErrExecutableMissing = errors.New("llama-server executable not found")
	ErrModelMissing      = errors.New("model file not found")
	// ErrChildSpawnFailed covers both exec failures and a child that exits
	// inside the start grace period.
	ErrChildSpawnFailed = errors.New("llama-server failed to start")
	// ErrChildExitedUnexpectedly is logged when a running child dies without Stop.
	ErrChildExitedUnexpectedly = errors.New("llama-server exited unexpectedly")
)

// State is the supervisor lifecycle state.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Settings is the child configuration captured at Start.
type Settings struct {
	AutoStart  bool
	Executable string
	Model      string
	Host       string
	Port       int
	CtxSize    int
	GPULayers  int
	BatchSize  int
	Threads    int
	Parallel   int
	MainGPU    int
	GPUID      int // < 0 leaves CUDA_VISIBLE_DEVICES untouched
	Metrics    bool
}

// SettingsFrom maps the llama* config keys onto Settings.
func SettingsFrom(cfg config.Config, dataDir string) Settings {
	return Settings{
		AutoStart:  cfg.AutoStartLlamaServer,
		Executable: cfg.LlamaServerExecutable(dataDir),
		Model:      cfg.ModelPath(dataDir),
		Host:       cfg.LlamaServerHost,
		Port:       cfg.LlamaServerPort,
		CtxSize:    cfg.LlamaContextSize,
		GPULayers:  cfg.LlamaGPULayers,
		BatchSize:  cfg.LlamaBatchSize,
		Threads:    cfg.LlamaThreads,
		Parallel:   cfg.LlamaParallel,
		MainGPU:    cfg.LlamaMainGPU,
		GPUID:      cfg.LlamaGPUID,
		Metrics:    cfg.LlamaMetrics,
	}
}

// Args returns the llama-server command line, excluding the executable.
func (s Settings) Args() []string {
	args := []string{
		"--model", s.Model,
		"--port", strconv.Itoa(s.Port),
		"--ctx-size", strconv.Itoa(s.CtxSize),
		"--n-gpu-layers", strconv.Itoa(s.GPULayers),
		"--batch-size", strconv.Itoa(s.BatchSize),
		"--threads", strconv.Itoa(s.Threads),
		"--parallel", strconv.Itoa(s.Parallel),
		"--main-gpu", strconv.Itoa(s.MainGPU),
		"--host", s.Host,
	}
	if s.Metrics {
		args = append(args, "--metrics")
	}
	return args
}

// Env returns the child environment: base plus CUDA_VISIBLE_DEVICES when a
// GPU id is pinned.
func (s Settings) Env(base []string) []string {
	env := make([]string, 0, len(base)+1)
	env = append(env, base...)
	if s.GPUID >= 0 {
		env = append(env, "CUDA_VISIBLE_DEVICES="+strconv.Itoa(s.GPUID))
	}
	return env
}

// child is the state bound to one spawned process.
type child struct {
	cmd      *exec.Cmd
	pid      int
	done     chan struct{} // closed once the process is reaped
	exitErr  error
	tasks    sync.WaitGroup // stdout reader, stderr reader, watchdog
	stopping atomic.Bool
}

// Supervisor runs at most one llama-server child.
type Supervisor struct {
	// StartGrace and StopTimeout may be adjusted before the first Start.
	StartGrace  time.Duration
	StopTimeout time.Duration

	// cmdFactory builds the exec.Cmd for the child. Tests replace it to run
	// a stand-in script.
	cmdFactory func(exe string, args []string) *exec.Cmd

	mu       sync.Mutex
	settings Settings
	state    State
	proc     *child

	running atomic.Bool
}

// New returns a stopped supervisor for settings.
func New(settings Settings) *Supervisor {
	return &Supervisor{
		StartGrace:  DefaultStartGrace,
		StopTimeout: DefaultStopTimeout,
		settings:    settings,
		cmdFactory: func(exe string, args []string) *exec.Cmd {
			return exec.Command(exe, args...) //nolint:gosec // executable path comes from local config
		},
	}
}

// Configure replaces the settings used by the next Start. A running child is
// not touched.
func (s *Supervisor) Configure(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Settings returns the current settings.
func (s *Supervisor) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// State returns the lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsRunning reports whether a child is in the Running state. It does not
// take the supervisor lock.
func (s *Supervisor) IsRunning() bool {
	return s.running.Load()
}

// PID returns the child pid, or 0 when there is none.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.pid
}

// Command returns the full command line Start would run.
func (s *Supervisor) Command() []string {
	st := s.Settings()
	return append([]string{st.Executable}, st.Args()...)
}

// StartAsync runs Start in the background and reports success on the
// returned channel.
func (s *Supervisor) StartAsync(ctx context.Context) <-chan bool {
	out := make(chan bool, 1)
	go func() {
		err := s.Start(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("llama-server start")
		}
		out <- err == nil
	}()
	return out
}

// Start spawns the child and blocks until it has survived the start grace
// period. It returns nil if a child is already starting or running.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		s.mu.Unlock()
		return nil
	}
	st := s.settings
	if err := checkPreconditions(st); err != nil {
		s.mu.Unlock()
		return err
	}

	c, err := s.spawn(st)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.proc = c
	s.state = Starting
	s.mu.Unlock()

	log.Info().Int("pid", c.pid).Str("exe", st.Executable).Str("model", st.Model).Msg("llama-server starting")

	timer := time.NewTimer(s.StartGrace)
	defer timer.Stop()

	select {
	case <-c.done:
		c.tasks.Wait()
		return fmt.Errorf("%w: exited during start: %v", ErrChildSpawnFailed, c.exitErr)
	case <-ctx.Done():
		s.Stop()
		return ctx.Err()
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != c || s.state != Starting {
		return fmt.Errorf("%w: stopped during start", ErrChildSpawnFailed)
	}
	s.state = Running
	s.running.Store(true)
	log.Info().Int("pid", c.pid).Int("port", st.Port).Msg("llama-server running")
	return nil
}

func checkPreconditions(st Settings) error {
	if !st.AutoStart {
		return ErrDisabled
	}
	if info, err := os.Stat(st.Executable); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrExecutableMissing, st.Executable)
	}
	if info, err := os.Stat(st.Model); err != nil || info.IsDir() {
		return fmt.Errorf("%w: %s", ErrModelMissing, st.Model)
	}
	return nil
}

// spawn starts the process and its three tasks. Caller holds s.mu.
func (s *Supervisor) spawn(st Settings) (*child, error) {
	cmd := s.cmdFactory(st.Executable, st.Args())
	cmd.Dir = filepath.Dir(st.Executable)
	cmd.Env = st.Env(os.Environ())
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrChildSpawnFailed, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrChildSpawnFailed, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChildSpawnFailed, err)
	}

	c := &child{cmd: cmd, pid: cmd.Process.Pid, done: make(chan struct{})}

	var readers sync.WaitGroup
	readers.Add(2)
	c.tasks.Add(3)
	go func() {
		defer c.tasks.Done()
		defer readers.Done()
		drain(stdout, c.pid, "stdout", zerolog.DebugLevel)
	}()
	go func() {
		defer c.tasks.Done()
		defer readers.Done()
		drain(stderr, c.pid, "stderr", zerolog.InfoLevel)
	}()
	go func() {
		defer c.tasks.Done()
		// pipes must be fully read before Wait closes them
		readers.Wait()
		c.exitErr = c.cmd.Wait()
		close(c.done)
		s.onExit(c)
	}()

	return c, nil
}

// drain logs each line the child writes until the pipe closes.
func drain(r io.Reader, pid int, stream string, level zerolog.Level) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		log.WithLevel(level).Int("pid", pid).Str("stream", stream).Msg(scanner.Text())
	}
}

// onExit runs on the watchdog once the child is reaped. Exits caused by
// Stop are handled there.
func (s *Supervisor) onExit(c *child) {
	if c.stopping.Load() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != c {
		return
	}
	wasRunning := s.state == Running
	s.running.Store(false)
	s.proc = nil
	s.state = Stopped

	if wasRunning {
		log.Error().Err(ErrChildExitedUnexpectedly).Int("pid", c.pid).AnErr("exit", c.exitErr).Msg("llama-server died, not restarting")
	} else {
		log.Warn().Int("pid", c.pid).AnErr("exit", c.exitErr).Msg("llama-server exited during start")
	}
}

// Stop terminates the child: SIGTERM to its process group, then SIGKILL
// after StopTimeout. It returns once the process and its tasks are gone.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	c := s.proc
	if c == nil {
		s.mu.Unlock()
		return
	}
	c.stopping.Store(true)
	s.state = Stopping
	s.running.Store(false)
	s.mu.Unlock()

	log.Info().Int("pid", c.pid).Msg("stopping llama-server")

	select {
	case <-c.done:
	default:
		if err := terminate(c.cmd.Process); err != nil {
			log.Debug().Err(err).Int("pid", c.pid).Msg("sigterm")
		}
		select {
		case <-c.done:
		case <-time.After(s.StopTimeout):
			log.Warn().Int("pid", c.pid).Dur("timeout", s.StopTimeout).Msg("llama-server ignored SIGTERM, killing")
			if err := kill(c.cmd.Process); err != nil {
				log.Debug().Err(err).Int("pid", c.pid).Msg("sigkill")
			}
			<-c.done
		}
	}
	c.tasks.Wait()

	s.mu.Lock()
	if s.proc == c {
		s.proc = nil
		s.state = Stopped
	}
	s.mu.Unlock()
	log.Info().Int("pid", c.pid).Msg("llama-server stopped")
}
