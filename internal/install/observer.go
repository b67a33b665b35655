package install

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/mattjoyce/wearpkg/internal/events"
	"github.com/mattjoyce/wearpkg/internal/metrics"
	"github.com/mattjoyce/wearpkg/internal/pm"
)

// observe hands j to a goroutine that waits for its completion. From here on
// the observer, not the worker, concludes the request.
func (w *Worker) observe(j *job, done <-chan pm.Completion) {
	j.handedOff = true
	settled := w.markInflight(j)

	go func() {
		defer settled()
		defer func() {
			if r := recover(); r != nil {
				j.log.Error("panic while handling completion", "panic", r, "stack", string(debug.Stack()))
				w.conclude(j, OutcomePanic)
			}
		}()

		c, ok := <-done
		if !ok {
			j.log.Error("completion channel closed without a result")
			c = pm.Completion{ReturnCode: pm.ErrorInternal}
		}
		if c.PackageName == "" {
			c.PackageName = j.packageName()
		}

		switch j.kind {
		case metrics.KindInstall:
			w.installCompleted(j, c)
		default:
			w.uninstallCompleted(j, c)
		}
	}()
}

func (w *Worker) installCompleted(j *job, c pm.Completion) {
	outcome := OutcomeCompleted
	if c.Succeeded() {
		j.log.Info("package was installed", "return_code", c.ReturnCode)
	} else {
		outcome = OutcomeFailed
		j.log.Error("package install failed", "return_code", c.ReturnCode)
	}

	w.events.Publish(events.TypeInstallCompleted, events.Completion{
		RequestID:   j.id,
		PackageName: c.PackageName,
		ReturnCode:  c.ReturnCode,
		Succeeded:   c.Succeeded(),
	})
	if c.Succeeded() && w.opts.CoreServicesPackage != "" && c.PackageName == w.opts.CoreServicesPackage {
		w.events.Publish(events.TypeCoreServicesUpdated, events.PackageRef{PackageName: c.PackageName})
		if w.metrics != nil {
			w.metrics.CoreServicesEvent.Inc()
		}
		j.log.Info("announced core services update")
	}

	w.conclude(j, outcome)
}

func (w *Worker) uninstallCompleted(j *job, c pm.Completion) {
	outcome := OutcomeCompleted
	if c.Succeeded() {
		j.log.Info("package was uninstalled", "return_code", c.ReturnCode)
	} else {
		outcome = OutcomeFailed
		j.log.Error("package uninstall failed", "return_code", c.ReturnCode)
	}

	w.events.Publish(events.TypeUninstallCompleted, events.Completion{
		RequestID:   j.id,
		PackageName: c.PackageName,
		ReturnCode:  c.ReturnCode,
		Succeeded:   c.Succeeded(),
	})
	w.conclude(j, outcome)
}

// markInflight records that an install for the job's package is awaiting
// completion. The returned func clears the record.
func (w *Worker) markInflight(j *job) func() {
	if j.kind != metrics.KindInstall {
		return func() {}
	}
	name := j.install.PackageName
	ch := make(chan struct{})

	w.pkgMu.Lock()
	w.inflight[name] = ch
	w.pkgMu.Unlock()

	return func() {
		w.pkgMu.Lock()
		if w.inflight[name] == ch {
			delete(w.inflight, name)
		}
		w.pkgMu.Unlock()
		close(ch)
	}
}

// awaitPackage blocks until no earlier install of name is awaiting
// completion, since both would share the same staged paths.
func (w *Worker) awaitPackage(ctx context.Context, name string, j *job) error {
	w.pkgMu.Lock()
	ch, ok := w.inflight[name]
	w.pkgMu.Unlock()
	if !ok {
		return nil
	}

	j.log.Info("waiting for previous install of package to complete")
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for previous install: %w", ctx.Err())
	}
}
