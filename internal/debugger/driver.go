package debugger

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/errors"
	"github.com/CapulusCodeNinja/mcp-nexus-sub008/internal/common/logger"
)

// State represents the driver lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StateStarting  State = "starting"
	StateReady     State = "ready"
	StateExecuting State = "executing"
	StateStopping  State = "stopping"
	StateStopped   State = "stopped"
)

// Options configures a Driver. All durations must be positive (StartupDelay
// may be zero) and Retries non-negative; NewDriver rejects violations with a
// ConfigInvalid error.
type Options struct {
	BinaryPath  string // resolved debugger executable
	DumpPath    string // crash dump opened with -z
	SymbolsPath string // optional symbol directory passed with -y
	SessionID   string // owning session, used for log tagging and sentinel tags

	CommandTimeout  time.Duration
	StartupTimeout  time.Duration
	StartupDelay    time.Duration
	DisposalTimeout time.Duration
	ReadIdleTimeout time.Duration
	Retries         int
}

// Driver owns one debugger subprocess and exposes a single
// execute-command-and-return-its-output primitive.
//
// Execute is not re-entrant; the owning command queue serializes callers.
// The subprocess stdin is written only from Execute and Stop, and stdout and
// stderr are drained by dedicated reader goroutines that push lines into a
// bounded channel Execute consumes.
type Driver struct {
	opts Options
	log  *logger.Logger

	mu       sync.Mutex
	state    State
	disposed bool
	dead     bool

	cmd   *exec.Cmd
	stdin io.WriteCloser

	lines      chan string
	stopSignal chan struct{}
	stopOnce   sync.Once
	procDone   chan struct{}
	waitErr    error

	tagCounter atomic.Uint64

	// staleTags holds sentinel tags of commands that returned before their
	// sentinel arrived (timeout or ultra-safe early completion). Everything
	// up to and including a stale sentinel still belongs to the old command
	// and is discarded before the next command's output is read.
	staleMu   sync.Mutex
	staleTags map[string]struct{}
}

// NewDriver validates opts and returns a Driver in the Idle state.
// No subprocess is spawned until Start.
func NewDriver(opts Options, log *logger.Logger) (*Driver, error) {
	if opts.BinaryPath == "" {
		return nil, apperrors.ConfigInvalid("debugger binary path is required")
	}
	if opts.DumpPath == "" {
		return nil, apperrors.ConfigInvalid("dump path is required")
	}
	if opts.CommandTimeout <= 0 {
		return nil, apperrors.ConfigInvalid("command timeout must be positive")
	}
	if opts.StartupTimeout <= 0 {
		return nil, apperrors.ConfigInvalid("startup timeout must be positive")
	}
	if opts.StartupDelay < 0 {
		return nil, apperrors.ConfigInvalid("startup delay must not be negative")
	}
	if opts.DisposalTimeout <= 0 {
		return nil, apperrors.ConfigInvalid("disposal timeout must be positive")
	}
	if opts.ReadIdleTimeout <= 0 {
		return nil, apperrors.ConfigInvalid("read idle timeout must be positive")
	}
	if opts.Retries < 0 {
		return nil, apperrors.ConfigInvalid("retries must not be negative")
	}

	return &Driver{
		opts:       opts,
		log:        log.WithFields(zap.String("component", "debugger-driver"), zap.String("session_id", opts.SessionID)),
		state:      StateIdle,
		lines:      make(chan string, 4096),
		stopSignal: make(chan struct{}),
		procDone:   make(chan struct{}),
		staleTags:  make(map[string]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Alive reports whether the subprocess is usable for further commands.
func (d *Driver) Alive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.dead && !d.disposed && (d.state == StateReady || d.state == StateExecuting)
}

// Start spawns the debugger subprocess and blocks until the initial prompt
// is observed or the startup timeout elapses.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return apperrors.New(apperrors.KindDisposed, "driver is disposed")
	}
	if d.state != StateIdle {
		d.mu.Unlock()
		return apperrors.Newf(apperrors.KindNotActive, "cannot start driver in state %s", d.state)
	}
	d.state = StateStarting
	d.mu.Unlock()

	args := []string{"-z", d.opts.DumpPath}
	if d.opts.SymbolsPath != "" {
		args = append(args, "-y", d.opts.SymbolsPath)
	}

	cmd := exec.Command(d.opts.BinaryPath, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "failed to attach stdin", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "failed to attach stdout", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "failed to attach stderr", err))
	}

	if err := cmd.Start(); err != nil {
		return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "failed to spawn debugger", err))
	}

	d.mu.Lock()
	d.cmd = cmd
	d.stdin = stdin
	d.mu.Unlock()

	d.log.Info("debugger spawned",
		zap.String("binary", d.opts.BinaryPath),
		zap.String("dump", d.opts.DumpPath),
		zap.Int("pid", cmd.Process.Pid))

	go d.readLines(stdout)
	go d.readLines(stderr)
	go func() {
		err := cmd.Wait()
		d.mu.Lock()
		d.waitErr = err
		d.mu.Unlock()
		close(d.procDone)
	}()

	if d.opts.StartupDelay > 0 {
		select {
		case <-time.After(d.opts.StartupDelay):
		case <-ctx.Done():
			d.terminate()
			return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "startup interrupted", ctx.Err()))
		}
	}

	// The debugger is ready once it emits its first prompt.
	deadline := time.NewTimer(d.opts.StartupTimeout)
	defer deadline.Stop()
	for {
		select {
		case line := <-d.lines:
			if IsPrompt(line) {
				d.mu.Lock()
				d.state = StateReady
				d.mu.Unlock()
				d.log.Debug("debugger ready")
				return nil
			}
		case <-d.procDone:
			d.mu.Lock()
			waitErr := d.waitErr
			d.mu.Unlock()
			return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "debugger exited during startup", waitErr))
		case <-deadline.C:
			d.terminate()
			return d.failStartup(apperrors.Newf(apperrors.KindStartupTimeout,
				"no debugger prompt within %s", d.opts.StartupTimeout))
		case <-ctx.Done():
			d.terminate()
			return d.failStartup(apperrors.Wrap(apperrors.KindStartupFailed, "startup interrupted", ctx.Err()))
		}
	}
}

func (d *Driver) failStartup(err error) error {
	d.mu.Lock()
	d.state = StateStopped
	d.dead = true
	d.mu.Unlock()
	return err
}

// Execute writes command to the debugger followed by a sentinel marker and
// reads output until the sentinel echo (or an ultra-safe completion marker)
// is observed. It returns the accumulated content lines with prompts,
// input echoes and sentinel lines stripped.
//
// Cancellation of ctx cancels the command; the driver then realigns by
// emitting a fresh sentinel and draining until it appears. If realignment
// does not complete within the disposal timeout the driver is marked dead.
func (d *Driver) Execute(ctx context.Context, command string) (string, error) {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return "", apperrors.New(apperrors.KindDisposed, "driver is disposed")
	}
	if d.dead {
		d.mu.Unlock()
		return "", apperrors.ProcessDied("debugger process is not running", d.waitErr)
	}
	if d.state != StateReady {
		d.mu.Unlock()
		return "", apperrors.Newf(apperrors.KindNotActive, "driver is %s, not ready", d.state)
	}
	d.state = StateExecuting
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		if d.state == StateExecuting {
			d.state = StateReady
		}
		d.mu.Unlock()
	}()

	tag := d.nextTag()
	sentinelCmd := ".echo " + tag

	execCtx, cancel := context.WithTimeout(ctx, d.opts.CommandTimeout)
	defer cancel()

	if err := d.writeLine(command + "\n" + sentinelCmd); err != nil {
		d.markDead()
		return "", apperrors.ProcessDied("failed to write to debugger stdin", err)
	}

	// The idle timer only drives diagnostics: a long-running command with a
	// silent debugger is worth a log line, but never a completion signal.
	idle := time.NewTimer(d.opts.ReadIdleTimeout)
	defer idle.Stop()

	var content []string
	for {
		select {
		case <-idle.C:
			d.log.Debug("no debugger output",
				zap.Duration("quiet_for", d.opts.ReadIdleTimeout),
				zap.Int("lines_so_far", len(content)))
			idle.Reset(d.opts.ReadIdleTimeout)

		case line := <-d.lines:
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(d.opts.ReadIdleTimeout)
			if d.discardStale(line) {
				continue
			}
			if MatchesSentinel(line, tag) {
				return joinContent(content), nil
			}
			if IsUltraSafeCompletion(line) {
				content = append(content, line)
				d.markStale(tag)
				return joinContent(content), nil
			}
			trimmed := strings.TrimSpace(line)
			if trimmed == strings.TrimSpace(command) || trimmed == sentinelCmd {
				continue
			}
			if IsPrompt(line) {
				continue
			}
			content = append(content, line)

		case <-d.procDone:
			d.markDead()
			d.mu.Lock()
			waitErr := d.waitErr
			d.mu.Unlock()
			return "", apperrors.ProcessDied("debugger exited mid-command", waitErr)

		case <-execCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				d.markStale(tag)
				if err := d.realign(); err != nil {
					d.log.Warn("failed to realign after cancel", zap.Error(err))
					d.markDead()
				}
				return "", apperrors.Cancelled("command cancelled by caller")
			}
			d.markStale(tag)
			return "", apperrors.Newf(apperrors.KindCommandTimeout,
				"command did not complete within %s", d.opts.CommandTimeout)
		}
	}
}

// realign writes a bare newline plus a fresh sentinel and drains output until
// that sentinel is observed, restoring the command/response pairing after an
// interrupted read.
func (d *Driver) realign() error {
	tag := d.nextTag()
	if err := d.writeLine("\n.echo " + tag); err != nil {
		return err
	}
	deadline := time.NewTimer(d.opts.DisposalTimeout)
	defer deadline.Stop()
	for {
		select {
		case line := <-d.lines:
			if MatchesSentinel(line, tag) {
				// Every line the stale tags guarded against has been drained.
				d.clearStale()
				return nil
			}
		case <-d.procDone:
			return apperrors.ProcessDied("debugger exited during realign", nil)
		case <-deadline.C:
			return apperrors.Newf(apperrors.KindCommandTimeout,
				"realign sentinel not observed within %s", d.opts.DisposalTimeout)
		}
	}
}

// Stop sends quit, waits up to the disposal timeout for a graceful exit and
// escalates to a kill. Idempotent.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	started := d.cmd != nil
	d.state = StateStopping
	d.mu.Unlock()

	d.stopOnce.Do(func() { close(d.stopSignal) })

	if !started {
		d.mu.Lock()
		d.state = StateStopped
		d.mu.Unlock()
		return nil
	}

	_ = d.writeLine("q")
	_ = d.stdin.Close()

	select {
	case <-d.procDone:
	case <-time.After(d.opts.DisposalTimeout):
		d.log.Warn("debugger did not quit gracefully, killing process")
		d.terminate()
		<-d.procDone
	case <-ctx.Done():
		d.terminate()
		<-d.procDone
	}

	d.mu.Lock()
	d.state = StateStopped
	d.mu.Unlock()
	d.log.Info("debugger stopped")
	return nil
}

func (d *Driver) terminate() {
	d.mu.Lock()
	cmd := d.cmd
	d.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
}

func (d *Driver) markDead() {
	d.mu.Lock()
	d.dead = true
	d.mu.Unlock()
}

func (d *Driver) nextTag() string {
	n := d.tagCounter.Add(1)
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("NEXUS-SENTINEL-%s-%d-%s", d.opts.SessionID, n, suffix)
}

func (d *Driver) markStale(tag string) {
	d.staleMu.Lock()
	d.staleTags[tag] = struct{}{}
	d.staleMu.Unlock()
}

// discardStale reports whether line is residue of a command that returned
// before its sentinel arrived. The subprocess executes input strictly in
// order, so no later command's output can precede a stale sentinel; every
// line is discarded until the stale sentinel itself is seen and consumed.
func (d *Driver) discardStale(line string) bool {
	d.staleMu.Lock()
	defer d.staleMu.Unlock()
	if len(d.staleTags) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(line)
	if _, ok := d.staleTags[trimmed]; ok {
		delete(d.staleTags, trimmed)
	}
	return true
}

func (d *Driver) clearStale() {
	d.staleMu.Lock()
	d.staleTags = make(map[string]struct{})
	d.staleMu.Unlock()
}

// writeLine appends a newline and writes to the subprocess stdin.
// Only Execute, realign and Stop call this; the queue's single executor
// serializes them, so there is never more than one stdin writer.
func (d *Driver) writeLine(s string) error {
	d.mu.Lock()
	stdin := d.stdin
	d.mu.Unlock()
	if stdin == nil {
		return apperrors.New(apperrors.KindNotActive, "debugger stdin not attached")
	}
	_, err := io.WriteString(stdin, s+"\n")
	return err
}

// readLines drains one output pipe into the shared line channel. Both stdout
// and stderr run one of these; the debugger interleaves them freely and the
// completion protocol does not care which stream a line arrived on.
func (d *Driver) readLines(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case d.lines <- scanner.Text():
		case <-d.stopSignal:
			return
		}
	}
}

func joinContent(lines []string) string {
	return strings.TrimRight(strings.Join(lines, "\n"), " \t\r\n")
}
