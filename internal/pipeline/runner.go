package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/GriffinCanCode/autocapture/internal/config"
	"github.com/GriffinCanCode/autocapture/internal/delivery"
	"github.com/GriffinCanCode/autocapture/internal/encoder"
	"github.com/GriffinCanCode/autocapture/internal/geo"
	"github.com/GriffinCanCode/autocapture/internal/ledger"
	"github.com/GriffinCanCode/autocapture/internal/metrics"
	"github.com/GriffinCanCode/autocapture/internal/screen"
	"github.com/GriffinCanCode/autocapture/internal/session"
	"github.com/GriffinCanCode/autocapture/internal/syncx"
	"github.com/GriffinCanCode/autocapture/internal/sysinfo"
	"github.com/GriffinCanCode/autocapture/internal/trace"
)

// Capturer acquires one frame of the screen.
type Capturer interface {
	Capture(ctx context.Context) (screen.Frame, error)
}

// FactSource gathers host facts. It never fails.
type FactSource interface {
	Collect(ctx context.Context) sysinfo.Facts
}

// Locator resolves the host location. It never fails.
type Locator interface {
	Lookup(ctx context.Context) geo.Location
}

// Archiver keeps a local copy of a capture.
type Archiver interface {
	Save(img image.Image, session string, index int64) (string, error)
}

// Deliverer uploads a capture.
type Deliverer interface {
	Send(ctx context.Context, c delivery.Capture) (delivery.Receipt, error)
}

// Ledger records iteration outcomes.
type Ledger interface {
	Record(ctx context.Context, e ledger.Entry) error
}

// Settings are the loop parameters derived from configuration.
type Settings struct {
	Interval          time.Duration
	StartDelay        time.Duration
	Limit             int64 // 0 runs until cancelled
	Quality           int
	MaxBytes          int64
	Compress          bool
	IncludeSystemInfo bool
	SkipUnchanged     bool
	ErrorPause        time.Duration
	JoinTimeout       time.Duration
}

// SettingsFrom derives Settings from cfg.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		Interval:          cfg.Interval(),
		StartDelay:        cfg.StartDelayDuration(),
		Limit:             int64(cfg.CaptureLimit()),
		Quality:           cfg.ImageQuality,
		MaxBytes:          int64(cfg.MaxImageBytes()),
		Compress:          cfg.CompressImages,
		IncludeSystemInfo: cfg.IncludeSystemInfo,
		SkipUnchanged:     cfg.SkipUnchanged,
		ErrorPause:        ErrorPause,
		JoinTimeout:       JoinTimeout,
	}
}

// Deps are the collaborators of one Runner. Locator, Archiver and Ledger
// are optional; nil disables the stage.
type Deps struct {
	Session   *session.Session
	Capturer  Capturer
	Facts     FactSource
	Locator   Locator
	Archiver  Archiver
	Deliverer Deliverer
	Ledger    Ledger
	// Snapshot is written into the session start record.
	Snapshot any
}

// Runner owns the session state and the capture loop.
type Runner struct {
	deps     Deps
	settings Settings
	state    atomic.Int32
	busy     atomic.Bool
	status   *syncx.Watched[Status]
	encode   func(image.Image, encoder.Options) (encoder.Result, error)
	now      func() time.Time
}

// New creates an idle Runner.
func New(deps Deps, settings Settings) (*Runner, error) {
	if deps.Session == nil || deps.Capturer == nil || deps.Deliverer == nil {
		return nil, errors.New("pipeline needs a session, a capturer and a deliverer")
	}
	if settings.ErrorPause <= 0 {
		settings.ErrorPause = ErrorPause
	}
	if settings.JoinTimeout <= 0 {
		settings.JoinTimeout = JoinTimeout
	}
	r := &Runner{
		deps:     deps,
		settings: settings,
		encode:   encoder.Encode,
		now:      time.Now,
	}
	r.status = syncx.NewWatched(Status{
		SessionID: deps.Session.ID(),
		State:     Idle,
		StartedAt: deps.Session.Started(),
		Limit:     settings.Limit,
	})
	return r, nil
}

// State returns the current lifecycle state.
func (r *Runner) State() State { return State(r.state.Load()) }

// Snapshot returns the latest published status.
func (r *Runner) Snapshot() Status { return r.status.Get() }

// Busy reports whether the loop goroutine is still running. It stays true
// after Run returns when the in-flight iteration outlived JoinTimeout.
func (r *Runner) Busy() bool { return r.busy.Load() }

// Changed returns a channel closed the next time the status changes.
func (r *Runner) Changed() <-chan struct{} { return r.status.Changed() }

func (r *Runner) setState(s State) {
	r.state.Store(int32(s))
	r.status.Update(func(st *Status) {
		st.State = s
		st.Captures = r.deps.Session.Count()
	})
}

// Run drives the loop until the capture limit is reached or ctx is
// cancelled, then writes the session end record. The in-flight iteration is
// not interrupted by cancellation; shutdown waits for it up to JoinTimeout.
func (r *Runner) Run(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return fmt.Errorf("pipeline already %s", r.State())
	}
	sess := r.deps.Session
	log := slog.With("session", sess.ID())

	if err := sess.WriteStart(r.deps.Snapshot); err != nil {
		log.Warn("failed to write session start record", "error", err)
	}
	sess.SetRunning(true)
	r.setState(Running)
	log.Info("starting capture loop", "interval", r.settings.Interval, "limit", r.settings.Limit)

	loopDone := make(chan struct{})
	r.busy.Store(true)
	go func() {
		defer close(loopDone)
		defer r.busy.Store(false)
		r.loop(ctx)
	}()

	select {
	case <-loopDone:
	case <-ctx.Done():
		log.Info("shutdown requested")
	}

	sess.SetRunning(false)
	r.setState(Stopping)

	select {
	case <-loopDone:
	case <-time.After(r.settings.JoinTimeout):
		log.Warn("capture loop did not stop in time", "waited", r.settings.JoinTimeout)
	}

	rec, err := sess.WriteEnd(r.now())
	if err != nil {
		log.Error("failed to write session end record", "error", err)
	}
	r.setState(Stopped)
	log.Info("session ended", "total_captures", rec.TotalCaptures)
	return nil
}

// RunSingle performs one iteration inside a full session: start record,
// RunOnce, end record.
func (r *Runner) RunSingle(ctx context.Context) (Outcome, error) {
	if !r.state.CompareAndSwap(int32(Idle), int32(Running)) {
		return Outcome{}, fmt.Errorf("pipeline already %s", r.State())
	}
	sess := r.deps.Session
	if err := sess.WriteStart(r.deps.Snapshot); err != nil {
		slog.Warn("failed to write session start record", "error", err)
	}
	sess.SetRunning(true)
	r.setState(Running)

	out := r.RunOnce(ctx)

	sess.SetRunning(false)
	r.setState(Stopping)
	if _, err := sess.WriteEnd(r.now()); err != nil {
		slog.Error("failed to write session end record", "error", err)
	}
	r.setState(Stopped)
	return out, nil
}

func (r *Runner) loop(ctx context.Context) {
	sess := r.deps.Session
	if r.settings.StartDelay > 0 {
		slog.Info("waiting before first capture", "delay", r.settings.StartDelay)
		if !sleep(ctx, r.settings.StartDelay) {
			return
		}
	}

	// Iterations run to completion even when ctx is cancelled mid-way.
	work := context.WithoutCancel(ctx)
	for sess.Running() && ctx.Err() == nil {
		out := r.RunOnce(work)

		if r.settings.Limit > 0 && sess.Count() >= r.settings.Limit {
			slog.Info("reached maximum captures, stopping", "max_captures", r.settings.Limit)
			return
		}

		wait := r.settings.Interval
		if out.Panicked {
			slog.Warn("pausing after iteration error", "pause", r.settings.ErrorPause)
			wait = r.settings.ErrorPause
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

// RunOnce performs exactly one capture attempt and the stages that follow
// it. Panics are recovered and reported in the Outcome.
func (r *Runner) RunOnce(ctx context.Context) (out Outcome) {
	ctx, span := trace.StartSpan(ctx, "capture_iteration")
	log := trace.Logger(ctx)
	start := r.now()
	sess := r.deps.Session

	out = Outcome{ID: uuid.NewString(), Index: sess.Next(), At: start}
	span.SetAttr("capture", out.Index)

	defer func() {
		if p := recover(); p != nil {
			out.Panicked = true
			out.Err = fmt.Sprintf("panic: %v", p)
			metrics.Iterations.WithLabelValues(metrics.OutcomePanic).Inc()
			log.Error("capture iteration panicked", "panic", p, "stack", string(debug.Stack()))
		}
		out.Duration = r.now().Sub(start)
		r.publish(out)
		r.record(ctx, out)
		var err error
		if out.Err != "" {
			err = errors.New(out.Err)
		}
		span.Finish(err)
	}()

	log.Info("capture", "n", out.Index)
	r.iterate(ctx, log, &out)
	return out
}

func (r *Runner) iterate(ctx context.Context, log *slog.Logger, out *Outcome) {
	sess := r.deps.Session

	frame, err := timed("capture", func() (screen.Frame, error) { return r.deps.Capturer.Capture(ctx) })
	if err != nil {
		log.Warn("failed to capture screenshot, skipping", "error", err)
		out.Err = err.Error()
		metrics.Iterations.WithLabelValues(metrics.OutcomeCaptureError).Inc()
		return
	}
	out.Captured = true
	out.At = frame.CapturedAt
	out.Width, out.Height = frame.Image.Rect.Dx(), frame.Image.Rect.Dy()
	out.Hash = frame.HashString()

	if r.settings.SkipUnchanged && !frame.Changed() {
		log.Debug("screen unchanged, skipping", "distance", frame.Distance)
		out.Unchanged = true
		metrics.Iterations.WithLabelValues(metrics.OutcomeUnchanged).Inc()
		return
	}

	upload := delivery.Capture{
		SessionID: sess.ID(),
		Index:     out.Index,
		Filename:  UploadFilename(sess.ID(), out.Index),
		At:        frame.CapturedAt,
	}

	if r.settings.IncludeSystemInfo && r.deps.Facts != nil {
		facts, _ := timed("facts", func() (sysinfo.Facts, error) { return r.deps.Facts.Collect(ctx), nil })
		upload.Facts = facts.Fields()
	}

	if r.deps.Locator != nil {
		loc, _ := timed("location", func() (geo.Location, error) { return r.deps.Locator.Lookup(ctx), nil })
		out.LocationStatus = loc.Status
		metrics.ObserveLocation(loc.OK())
		if loc.OK() {
			log.Info("location resolved", "city", loc.City, "country", loc.Country)
		} else {
			log.Warn("location unavailable", "status", loc.Status)
		}
		upload.Location = &loc
	}

	if r.deps.Archiver != nil {
		path, err := timed("archive", func() (string, error) {
			return r.deps.Archiver.Save(frame.Image, sess.ID(), out.Index)
		})
		if err != nil {
			log.Error("failed to save locally", "error", err)
		}
		out.ArchivePath = path
	}

	// The index is spent once the frame reaches encoding, whatever follows.
	defer r.complete(log, out)

	res, err := timed("encode", func() (encoder.Result, error) {
		return r.encode(frame.Image, encoder.Options{
			Quality:  r.settings.Quality,
			MaxBytes: r.settings.MaxBytes,
			Compress: r.settings.Compress,
		})
	})
	if err != nil {
		log.Error("failed to encode capture", "error", err)
		out.Err = err.Error()
		metrics.Iterations.WithLabelValues(metrics.OutcomeEncodeError).Inc()
		return
	}
	out.Bytes, out.Quality, out.MetCeiling = res.Size(), res.Quality, res.MetCeiling
	metrics.UploadBytes.Observe(float64(res.Size()))
	if !res.MetCeiling {
		metrics.OversizeUploads.Inc()
		log.Warn("image exceeds size limit at lowest quality",
			"size", humanize.Bytes(uint64(res.Size())),
			"limit", humanize.Bytes(uint64(r.settings.MaxBytes)),
			"quality", res.Quality)
	}
	upload.Image = res.Data

	receipt, err := timed("deliver", func() (delivery.Receipt, error) { return r.deps.Deliverer.Send(ctx, upload) })
	out.DeliveryStatus = receipt.Status
	if err != nil {
		log.Error("delivery failed", "error", err)
		out.Err = err.Error()
		metrics.Iterations.WithLabelValues(metrics.OutcomeDeliveryError).Inc()
		return
	}
	out.Delivered = true
	metrics.Iterations.WithLabelValues(metrics.OutcomeDelivered).Inc()
}

func (r *Runner) complete(log *slog.Logger, out *Outcome) {
	n := r.deps.Session.Increment()
	out.Counted = true
	metrics.Captures.Set(float64(n))
	if n%ProgressEvery == 0 {
		log.Info("status", "captures_completed", n)
	}
}

func (r *Runner) publish(out Outcome) {
	r.status.Update(func(st *Status) {
		st.Captures = r.deps.Session.Count()
		st.Last = &out
	})
}

func (r *Runner) record(ctx context.Context, out Outcome) {
	if r.deps.Ledger == nil || !out.Captured {
		return
	}
	e := ledger.Entry{
		ID:             out.ID,
		SessionID:      r.deps.Session.ID(),
		Index:          out.Index,
		CapturedAt:     out.At,
		Width:          out.Width,
		Height:         out.Height,
		Bytes:          out.Bytes,
		Quality:        out.Quality,
		MetCeiling:     out.MetCeiling,
		Hash:           out.Hash,
		ArchivePath:    out.ArchivePath,
		LocationStatus: out.LocationStatus,
		Delivered:      out.Delivered,
		Error:          out.Err,
	}
	if err := r.deps.Ledger.Record(ctx, e); err != nil {
		slog.Warn("failed to record capture", "error", err)
	}
}

// UploadFilename names the uploaded file for capture index in session.
func UploadFilename(session string, index int64) string {
	return fmt.Sprintf("auto_%s_%06d.jpg", session, index)
}

func timed[T any](stage string, fn func() (T, error)) (T, error) {
	start := time.Now()
	v, err := fn()
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	return v, err
}

// sleep waits for d or ctx, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
