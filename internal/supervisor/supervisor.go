package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/jpillora/backoff"

	"github.com/rickgao/tickergate/internal/health"
	"github.com/rickgao/tickergate/internal/incident"
)

var (
	// ErrUnknownService is returned for a service name that is not configured.
	ErrUnknownService = errors.New("unknown service")

	// ErrNotRunning is returned by Restart before Start or after Stop.
	ErrNotRunning = errors.New("supervisor not running")
)

// IncidentRecorder persists health transitions and recovery attempts.
type IncidentRecorder interface {
	Record(ctx context.Context, inc incident.Incident) error
}

// Config holds supervisor configuration.
type Config struct {
	HealthInterval      time.Duration // Default: 15s
	HealthTimeout       time.Duration // Default: 5s
	FailureThreshold    int           // Consecutive failed checks before recovery (default: 1)
	MaxRecoveryAttempts int           // Default: 3
	StopTimeout         time.Duration // SIGTERM grace period before SIGKILL (default: 5s)
	RestartMinDelay     time.Duration // Default: 1s
	RestartMaxDelay     time.Duration // Default: 30s
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HealthInterval:      15 * time.Second,
		HealthTimeout:       5 * time.Second,
		FailureThreshold:    1,
		MaxRecoveryAttempts: 3,
		StopTimeout:         5 * time.Second,
		RestartMinDelay:     time.Second,
		RestartMaxDelay:     30 * time.Second,
	}
}

// ServiceState is the externally visible state of one service.
type ServiceState struct {
	Name                string        `json:"name"`
	Critical            bool          `json:"critical"`
	Status              health.Status `json:"status"`
	Running             bool          `json:"running"`
	Pid                 int           `json:"pid,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RecoveryAttempts    int           `json:"recovery_attempts"`
	Restarts            int           `json:"restarts"`
	GaveUp              bool          `json:"gave_up"`
	LastCheck           time.Time     `json:"last_check"`
	LastError           string        `json:"last_error,omitempty"`
}

type service struct {
	// restartMu is held across stop-and-launch so that a manual restart,
	// a recovery and Stop never act on the same service at once.
	restartMu sync.Mutex

	spec       ServiceSpec
	state      ServiceState
	proc       Process
	backoff    *backoff.Backoff
	launched   bool
	recovering bool
}

// Supervisor launches services and runs the health loop.
type Supervisor struct {
	cfg       Config
	launcher  Launcher
	checker   *health.Checker
	incidents IncidentRecorder // optional
	logger    *slog.Logger

	mu       sync.Mutex
	services map[string]*service
	order    []string
	started  time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Supervisor for specs. incidents may be nil.
func New(cfg Config, specs []ServiceSpec, launcher Launcher, incidents IncidentRecorder, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:       cfg,
		launcher:  launcher,
		checker:   health.NewChecker(cfg.HealthTimeout, len(specs), logger),
		incidents: incidents,
		logger:    logger,
		services:  make(map[string]*service, len(specs)),
	}
	for _, spec := range specs {
		s.services[spec.Name] = &service{
			spec: spec,
			state: ServiceState{
				Name:     spec.Name,
				Critical: spec.Critical,
				Status:   health.StatusUnknown,
			},
			backoff: &backoff.Backoff{
				Min:    cfg.RestartMinDelay,
				Max:    cfg.RestartMaxDelay,
				Factor: 2,
				Jitter: true,
			},
		}
		s.order = append(s.order, spec.Name)
	}
	return s
}

// Start launches every service, then begins the health loop.
func (s *Supervisor) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()

	for _, name := range s.order {
		svc := s.services[name]
		if d := svc.spec.StartupDelay; d > 0 {
			select {
			case <-s.ctx.Done():
				return s.ctx.Err()
			case <-time.After(d):
			}
		}
		svc.restartMu.Lock()
		err := s.launch(svc)
		svc.restartMu.Unlock()
		if err != nil {
			s.logger.Error("failed to launch service", "service", name, "err", err)
		}
	}

	s.wg.Add(1)
	go s.run()

	s.logger.Info("supervisor started",
		"services", len(s.order),
		"health_interval", s.cfg.HealthInterval,
		"max_recovery_attempts", s.cfg.MaxRecoveryAttempts,
	)
	return nil
}

// Stop ends the health loop and terminates every process. Processes are
// terminated even when ctx expires first; ctx's error is still returned.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("health loop did not exit in time, terminating services anyway")
	}

	stopCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(context.Background(), s.cfg.StopTimeout)
		defer cancel()
	}

	var wg sync.WaitGroup
	for name, svc := range s.services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Waits out any in-flight restart; later ones see the
			// cancelled context and refuse to launch.
			svc.restartMu.Lock()
			defer svc.restartMu.Unlock()

			s.mu.Lock()
			p := svc.proc
			s.mu.Unlock()
			if p != nil {
				s.terminate(stopCtx, name, p)
			}
		}()
	}
	wg.Wait()

	s.logger.Info("supervisor stopped")
	return ctx.Err()
}

// StartedAt returns when Start was called.
func (s *Supervisor) StartedAt() time.Time {
	return s.started
}

// Snapshot returns every service's state sorted by name.
func (s *Supervisor) Snapshot() []ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ServiceState, 0, len(s.services))
	for _, svc := range s.services {
		st := svc.state
		st.Running = !exited(svc.proc)
		if !st.Running {
			st.Pid = 0
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Restart stops and relaunches a service by name, clearing its give-up
// state. It runs synchronously and waits for any recovery already in
// progress on the same service.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	svc, ok := s.services[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	if s.ctx == nil {
		return ErrNotRunning
	}

	svc.restartMu.Lock()
	defer svc.restartMu.Unlock()

	if s.ctx.Err() != nil {
		return ErrNotRunning
	}

	s.mu.Lock()
	svc.state.GaveUp = false
	svc.state.RecoveryAttempts = 0
	svc.backoff.Reset()
	proc := svc.proc
	s.mu.Unlock()

	if proc != nil {
		s.terminate(ctx, name, proc)
	}
	if err := s.launch(svc); err != nil {
		return err
	}
	s.record(incident.Incident{Service: name, Kind: incident.KindRecovery, Detail: "manual restart"})
	return nil
}

// run is the health loop.
func (s *Supervisor) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAll(s.ctx)
		}
	}
}

// checkAll checks every service once and applies the results.
func (s *Supervisor) checkAll(ctx context.Context) {
	var targets []health.Target
	var local []health.Result

	s.mu.Lock()
	for _, name := range s.order {
		svc := s.services[name]
		if svc.recovering {
			continue
		}
		if svc.spec.HealthURL != "" {
			targets = append(targets, health.Target{Name: name, URL: svc.spec.HealthURL})
			continue
		}
		local = append(local, processResult(name, svc.proc))
	}
	s.mu.Unlock()

	results := append(s.checker.CheckAll(ctx, targets), local...)
	if ctx.Err() != nil {
		return
	}
	for _, res := range results {
		s.observe(res)
	}
}

// processResult classifies a service with no health endpoint by whether its
// process is alive.
func processResult(name string, p Process) health.Result {
	res := health.Result{Service: name, CheckedAt: time.Now(), Status: health.StatusHealthy}
	if exited(p) {
		res.Status = health.StatusDown
		res.Error = "process not running"
		if p != nil && p.ExitErr() != nil {
			res.Error = "process exited: " + p.ExitErr().Error()
		}
	}
	return res
}

// observe applies one check result to the service state and triggers
// recovery when needed.
func (s *Supervisor) observe(res health.Result) {
	s.mu.Lock()
	svc, ok := s.services[res.Service]
	if !ok {
		s.mu.Unlock()
		return
	}

	prev := svc.state.Status
	svc.state.Status = res.Status
	svc.state.LastCheck = res.CheckedAt
	svc.state.LastError = res.Error

	var pending []incident.Incident
	if prev != res.Status {
		pending = append(pending, incident.Incident{
			Service: res.Service,
			Kind:    incident.KindTransition,
			From:    string(prev),
			To:      string(res.Status),
			Detail:  res.Error,
			At:      res.CheckedAt,
		})
		s.logger.Info("service status changed",
			"service", res.Service,
			"from", prev,
			"to", res.Status,
		)
	}

	var recoverDelay time.Duration
	startRecovery := false

	switch {
	case res.Status.OK():
		svc.state.ConsecutiveFailures = 0
		svc.state.RecoveryAttempts = 0
		svc.state.GaveUp = false
		svc.backoff.Reset()
	case !svc.spec.Critical:
		svc.state.ConsecutiveFailures++
		s.logger.Warn("non-critical service unhealthy",
			"service", res.Service,
			"status", res.Status,
			"err", res.Error,
		)
	case svc.recovering:
		// A restart is already pending.
	case svc.state.GaveUp:
		svc.state.ConsecutiveFailures++
		s.logger.Warn("critical service unhealthy, max recovery attempts reached",
			"service", res.Service,
			"status", res.Status,
		)
	default:
		svc.state.ConsecutiveFailures++
		if svc.state.ConsecutiveFailures < s.cfg.FailureThreshold {
			break
		}
		if svc.state.RecoveryAttempts >= s.cfg.MaxRecoveryAttempts {
			svc.state.GaveUp = true
			s.logger.Error("max recovery attempts reached, giving up",
				"service", res.Service,
				"attempts", svc.state.RecoveryAttempts,
			)
			pending = append(pending, incident.Incident{
				Service: res.Service,
				Kind:    incident.KindGaveUp,
				Detail:  fmt.Sprintf("%d recovery attempts failed", svc.state.RecoveryAttempts),
			})
			break
		}
		svc.state.RecoveryAttempts++
		svc.recovering = true
		recoverDelay = svc.backoff.Duration()
		startRecovery = true
	}
	attempt := svc.state.RecoveryAttempts
	s.mu.Unlock()

	for _, inc := range pending {
		s.record(inc)
	}

	if startRecovery {
		s.wg.Add(1)
		go s.recover(svc, attempt, recoverDelay)
	}
}

// recover restarts svc after delay.
func (s *Supervisor) recover(svc *service, attempt int, delay time.Duration) {
	defer s.wg.Done()
	name := svc.spec.Name

	s.logger.Warn("recovering service",
		"service", name,
		"attempt", attempt,
		"max_attempts", s.cfg.MaxRecoveryAttempts,
		"delay", delay,
	)

	select {
	case <-s.ctx.Done():
		s.mu.Lock()
		svc.recovering = false
		s.mu.Unlock()
		return
	case <-time.After(delay):
	}

	svc.restartMu.Lock()
	defer svc.restartMu.Unlock()

	if s.ctx.Err() != nil {
		s.mu.Lock()
		svc.recovering = false
		s.mu.Unlock()
		return
	}

	detail := fmt.Sprintf("attempt %d/%d", attempt, s.cfg.MaxRecoveryAttempts)
	if err := s.launch(svc); err != nil {
		s.logger.Error("recovery launch failed", "service", name, "attempt", attempt, "err", err)
		detail += ": " + err.Error()
	}

	s.mu.Lock()
	svc.state.ConsecutiveFailures = 0
	svc.recovering = false
	s.mu.Unlock()

	s.record(incident.Incident{Service: name, Kind: incident.KindRecovery, Detail: detail})
}

// launch starts svc's process and stores it, first terminating the process
// it replaces if that one is still alive. Callers hold svc.restartMu.
func (s *Supervisor) launch(svc *service) error {
	s.mu.Lock()
	old := svc.proc
	s.mu.Unlock()
	if old != nil && !exited(old) {
		stopCtx, cancel := context.WithTimeout(context.Background(), s.cfg.StopTimeout+time.Second)
		s.terminate(stopCtx, svc.spec.Name, old)
		cancel()
	}

	proc, err := s.launcher.Launch(s.ctx, svc.spec)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		svc.proc = nil
		svc.state.Status = health.StatusDown
		svc.state.LastError = err.Error()
		return fmt.Errorf("launch %s: %w", svc.spec.Name, err)
	}

	if svc.launched {
		svc.state.Restarts++
	}
	svc.launched = true
	svc.proc = proc
	svc.state.Pid = proc.Pid()
	s.logger.Info("service launched", "service", svc.spec.Name, "pid", proc.Pid())
	return nil
}

// terminate sends SIGTERM, waits up to StopTimeout, then kills.
func (s *Supervisor) terminate(ctx context.Context, name string, p Process) {
	if exited(p) {
		return
	}

	if err := p.Signal(syscall.SIGTERM); err != nil {
		s.logger.Debug("sigterm failed", "service", name, "err", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		s.logger.Info("service stopped", "service", name)
		return
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("service did not stop in time, killing", "service", name, "timeout", s.cfg.StopTimeout)
	if err := p.Kill(); err != nil {
		s.logger.Debug("kill failed", "service", name, "err", err)
	}

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		s.logger.Error("service still running after kill", "service", name)
	}
}

func (s *Supervisor) record(inc incident.Incident) {
	if s.incidents == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.incidents.Record(ctx, inc); err != nil {
		s.logger.Warn("failed to record incident", "service", inc.Service, "kind", inc.Kind, "err", err)
	}
}
