// Package install runs install and uninstall requests one at a time against
// the package authority, holding the resource guard for as long as each
// request has outstanding work.
package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/wearpkg/internal/guard"
	"github.com/mattjoyce/wearpkg/internal/metrics"
	"github.com/mattjoyce/wearpkg/internal/pm"
	"github.com/mattjoyce/wearpkg/internal/stage"
)

const defaultQueueCapacity = 64

// InstallRequest is copied on admission and never modified afterwards.
type InstallRequest struct {
	RequestID              string `json:"request_id,omitempty"`
	PackageName            string `json:"package"`
	ContentLocator         string `json:"content"`
	PermissionLocator      string `json:"permissions,omitempty"`
	CheckPermissions       bool   `json:"check_permissions"`
	SkipIfSameVersion      bool   `json:"skip_if_same_version"`
	CompressionAlgorithm   string `json:"compression,omitempty"`
	CompanionSDKVersion    int    `json:"companion_sdk_version,omitempty"`
	CompanionDeviceVersion int    `json:"companion_device_version,omitempty"`
}

type UninstallRequest struct {
	RequestID   string `json:"request_id,omitempty"`
	PackageName string `json:"package"`
}

// State is the worker's processing stage.
type State int32

const (
	StateIdle State = iota
	StateStaging
	StateParsing
	StateVersionCompare
	StatePermissionCheck
	StateFeatureCheck
	StateSubmitting
	StateAwaitingCompletion
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStaging:
		return "staging"
	case StateParsing:
		return "parsing"
	case StateVersionCompare:
		return "version_compare"
	case StatePermissionCheck:
		return "permission_check"
	case StateFeatureCheck:
		return "feature_check"
	case StateSubmitting:
		return "submitting"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	default:
		return "unknown"
	}
}

// Deps are the collaborators of a Worker. Events, Metrics and Tracker are
// optional.
type Deps struct {
	Authority   pm.Authority
	Permissions PermissionSource
	Content     ContentSource
	Notifier    GrantNotifier
	Parser      Parser
	Stager      Stager
	Guard       *guard.Guard
	Tracker     *Tracker
	Events      Publisher
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Options struct {
	QueueCapacity int
	// DeviceSDKVersion is the platform version the target device runs.
	DeviceSDKVersion int
	// CoreServicesPackage gets a core_services.updated event after each
	// successful install.
	CoreServicesPackage string
}

// Worker serializes requests through a FIFO queue consumed by Start.
type Worker struct {
	authority   pm.Authority
	permissions PermissionSource
	content     ContentSource
	notifier    GrantNotifier
	parser      Parser
	stager      Stager
	guard       *guard.Guard
	tracker     *Tracker
	events      Publisher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	opts        Options

	queue   chan *job
	state   atomic.Int32
	started atomic.Bool

	// admitMu orders admission against shutdown so nothing is enqueued
	// after the final drain.
	admitMu  sync.RWMutex
	stopped  bool
	done     chan struct{}
	stopOnce sync.Once

	pkgMu    sync.Mutex
	inflight map[string]chan struct{}

	now func() time.Time
}

// job is one admitted request. Fields are owned by the worker until
// handedOff is set, then by the completion observer.
type job struct {
	id        string
	kind      string
	install   InstallRequest
	uninstall UninstallRequest
	log       *slog.Logger
	admitted  time.Time

	staged    bool
	handedOff bool
	concluded bool
}

func (j *job) packageName() string {
	if j.kind == metrics.KindUninstall {
		return j.uninstall.PackageName
	}
	return j.install.PackageName
}

func New(deps Deps, opts Options) (*Worker, error) {
	switch {
	case deps.Authority == nil:
		return nil, fmt.Errorf("package authority is required")
	case deps.Permissions == nil:
		return nil, fmt.Errorf("permission source is required")
	case deps.Content == nil:
		return nil, fmt.Errorf("content source is required")
	case deps.Notifier == nil:
		return nil, fmt.Errorf("grant notifier is required")
	case deps.Parser == nil:
		return nil, fmt.Errorf("package parser is required")
	case deps.Stager == nil:
		return nil, fmt.Errorf("stager is required")
	case deps.Guard == nil:
		return nil, fmt.Errorf("resource guard is required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	}
	if opts.QueueCapacity <= 0 {
		opts.QueueCapacity = defaultQueueCapacity
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = NewTracker()
	}
	var pub Publisher = nopPublisher{}
	if deps.Events != nil {
		pub = deps.Events
	}

	return &Worker{
		authority:   deps.Authority,
		permissions: deps.Permissions,
		content:     deps.Content,
		notifier:    deps.Notifier,
		parser:      deps.Parser,
		stager:      deps.Stager,
		guard:       deps.Guard,
		tracker:     tracker,
		events:      pub,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		opts:        opts,
		queue:       make(chan *job, opts.QueueCapacity),
		done:        make(chan struct{}),
		inflight:    make(map[string]chan struct{}),
		now:         time.Now,
	}, nil
}

// SubmitInstall admits req and returns its request id. It blocks while the
// queue is full.
func (w *Worker) SubmitInstall(ctx context.Context, req InstallRequest) (string, error) {
	if err := stage.ValidatePackageName(req.PackageName); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.ContentLocator) == "" {
		return "", fmt.Errorf("%w: content locator is empty", ErrInvalidRequest)
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return w.admit(ctx, &job{id: req.RequestID, kind: metrics.KindInstall, install: req})
}

// SubmitUninstall admits req and returns its request id. An empty package
// name is admitted and rejected by the worker.
func (w *Worker) SubmitUninstall(ctx context.Context, req UninstallRequest) (string, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	return w.admit(ctx, &job{id: req.RequestID, kind: metrics.KindUninstall, uninstall: req})
}

func (w *Worker) admit(ctx context.Context, j *job) (string, error) {
	j.log = w.logger.With("request_id", j.id, "package", j.packageName(), "kind", j.kind)

	w.admitMu.RLock()
	defer w.admitMu.RUnlock()
	if w.stopped {
		return "", ErrStopped
	}
	j.admitted = w.now()
	if !w.tracker.Begin(j.id, j.kind, j.admitted) {
		return "", fmt.Errorf("%w: request id %q is already outstanding", ErrInvalidRequest, j.id)
	}
	w.guard.Acquire()

	select {
	case w.queue <- j:
		w.metrics.Admitted(j.kind)
		w.observeGauges()
		j.log.Info("request admitted", "queue_depth", len(w.queue))
		return j.id, nil
	case <-ctx.Done():
		w.abandon(j)
		return "", fmt.Errorf("wait for queue space: %w", ctx.Err())
	case <-w.done:
		w.abandon(j)
		return "", ErrStopped
	}
}

// abandon undoes a partial admission.
func (w *Worker) abandon(j *job) {
	w.guard.Release()
	w.tracker.Finish(j.id)
	w.observeGauges()
}

// Start processes queued requests until ctx is done. Requests still queued
// at that point are dropped and their resources released.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("install worker already started")
	}
	w.logger.Info("install worker started", "queue_capacity", cap(w.queue))
	defer w.shutdown()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("install worker stopping", "reason", ctx.Err())
			return ctx.Err()
		case j := <-w.queue:
			w.observeGauges()
			w.process(ctx, j)
		}
	}
}

func (w *Worker) shutdown() {
	w.stopOnce.Do(func() { close(w.done) })

	w.admitMu.Lock()
	w.stopped = true
	w.admitMu.Unlock()

	for {
		select {
		case j := <-w.queue:
			j.log.Warn("dropping queued request on shutdown")
			w.conclude(j, OutcomeDropped)
		default:
			return
		}
	}
}

// Wait blocks until every admitted request, including pending completions,
// has concluded.
func (w *Worker) Wait(ctx context.Context) error { return w.tracker.Wait(ctx) }

func (w *Worker) QueueDepth() int { return len(w.queue) }

func (w *Worker) Outstanding() int { return w.tracker.Outstanding() }

func (w *Worker) CurrentState() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

func (w *Worker) process(ctx context.Context, j *job) {
	j.log.Debug("processing request")
	defer w.setState(StateIdle)
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("panic while processing request", "panic", r, "stack", string(debug.Stack()))
			if !j.handedOff {
				w.conclude(j, OutcomePanic)
			}
		}
	}()

	var err error
	switch j.kind {
	case metrics.KindInstall:
		err = w.processInstall(ctx, j)
	case metrics.KindUninstall:
		err = w.processUninstall(ctx, j)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, j.kind)
	}
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrVersionSkipped):
		j.log.Warn("not installing", "reason", err.Error(), "state", w.CurrentState().String())
	case errors.Is(err, ErrPermissionUnavailable):
		j.log.Warn("package does not have enough permissions", "error", err)
	default:
		j.log.Error("request failed", "error", err, "state", w.CurrentState().String())
	}
	w.conclude(j, outcomeFor(err))
}

// conclude releases everything a request holds. Staged files are removed
// only for requests that staged.
func (w *Worker) conclude(j *job, outcome string) {
	if j.concluded {
		return
	}
	j.concluded = true

	if j.staged {
		if err := w.stager.Discard(j.install.PackageName); err != nil {
			j.log.Warn("failed to discard staged files", "error", err)
		}
	}
	j.log.Debug("request concluded", "outcome", outcome)
	w.guard.Release()
	w.observeGauges()
	w.metrics.Finished(j.kind, outcome, w.now().Sub(j.admitted))
	w.tracker.Finish(j.id)
}

func (w *Worker) observeGauges() {
	if w.metrics == nil {
		return
	}
	w.metrics.QueueDepth.Set(float64(len(w.queue)))
	w.metrics.GuardReferences.Set(float64(w.guard.Count()))
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
