// Package pause coordinates system-initiated pauses of the print job with the
// job runner's pause and resume hooks.
package pause

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jamesprial/upswatch/internal/audit"
	"github.com/jamesprial/upswatch/internal/metrics"
)

// Tags attached to every pause this system requests.
const (
	TagSource = "source:plugin"
	TagSystem = "plugin:ups"
)

// Hook names the job runner queries.
const (
	ScriptAfterPaused   = "after-paused"
	ScriptBeforeResumed = "before-resumed"

	scriptAfterPrintPaused   = "afterPrintPaused"
	scriptBeforePrintResumed = "beforePrintResumed"
)

const (
	auditActionPauseJob = "pause_job"
	auditActorSystem    = "system"
)

// Tags returns the tag set for a system-initiated pause.
func Tags() []string {
	return []string{TagSource, TagSystem}
}

// JobStatus is the controlled job's state as reported by the job controller.
// At most one of Printing, Paused and Pausing is set.
type JobStatus struct {
	State    string `json:"state"`
	Printing bool   `json:"printing"`
	Paused   bool   `json:"paused"`
	Pausing  bool   `json:"pausing"`
}

// JobController is the external job runner.
type JobController interface {
	Status(ctx context.Context) (JobStatus, error)
	PauseJob(ctx context.Context, tags []string) error
}

// ScriptContext is the data contributed to a pause or resume hook.
type ScriptContext struct {
	InitiatedByThisSystem bool `json:"initiatedByThisSystem"`
}

// Coordinator owns the pause intent flag.
type Coordinator struct {
	job    JobController
	audit  *audit.Logger
	logger *zap.SugaredLogger

	mu        sync.Mutex
	initiated bool
}

// NewCoordinator creates a coordinator. audit may be nil.
func NewCoordinator(job JobController, a *audit.Logger, logger *zap.SugaredLogger) *Coordinator {
	return &Coordinator{job: job, audit: a, logger: logger}
}

// JobStatus queries the job controller.
func (c *Coordinator) JobStatus(ctx context.Context) (JobStatus, error) {
	return c.job.Status(ctx)
}

// RequestPause sets the intent flag and then asks the job controller to
// pause. The flag is observably true before PauseJob is called. If the pause
// fails the flag is cleared again since the job was never paused by us.
func (c *Coordinator) RequestPause(ctx context.Context) error {
	start := time.Now()
	tags := Tags()

	c.mu.Lock()
	c.initiated = true
	c.mu.Unlock()

	if err := c.job.PauseJob(ctx, tags); err != nil {
		c.mu.Lock()
		c.initiated = false
		c.mu.Unlock()

		metrics.IncPauseRequest(false)
		c.audit.Record(auditActionPauseJob, auditActorSystem, map[string]any{"tags": tags}, "error: "+err.Error(), start)
		return fmt.Errorf("pause job: %w", err)
	}

	metrics.IncPauseRequest(true)
	c.audit.Record(auditActionPauseJob, auditActorSystem, map[string]any{"tags": tags}, "success", start)
	return nil
}

// ScriptContext answers a job runner hook. The pause and resume hooks return
// the intent flag; the resume hook also clears it in the same critical
// section. Any other hook returns false.
func (c *Coordinator) ScriptContext(name string) (ScriptContext, bool) {
	switch name {
	case ScriptAfterPaused, scriptAfterPrintPaused:
		c.mu.Lock()
		defer c.mu.Unlock()
		return ScriptContext{InitiatedByThisSystem: c.initiated}, true
	case ScriptBeforeResumed, scriptBeforePrintResumed:
		c.mu.Lock()
		defer c.mu.Unlock()
		sc := ScriptContext{InitiatedByThisSystem: c.initiated}
		c.initiated = false
		if sc.InitiatedByThisSystem {
			c.logger.Debug("resume hook consumed pause intent")
		}
		return sc, true
	default:
		return ScriptContext{}, false
	}
}

// Initiated reports the intent flag.
func (c *Coordinator) Initiated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initiated
}
