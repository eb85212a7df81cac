// Package orchestrator drives voice recordings through the pipeline:
// discover, download, transcribe, parse, publish, store, notify.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxcal/internal/config"
	"github.com/MrWong99/voxcal/internal/event"
	"github.com/MrWong99/voxcal/internal/eventstore"
	"github.com/MrWong99/voxcal/internal/observe"
	"github.com/MrWong99/voxcal/internal/pipeline"
	"github.com/MrWong99/voxcal/internal/resilience"
	"github.com/MrWong99/voxcal/pkg/provider/filestore"
	"github.com/MrWong99/voxcal/pkg/provider/transcriber"
)

// ErrRunInProgress is returned by RunOnce when a previous run has not
// finished yet. Runs never overlap; the scheduler simply skips a tick.
var ErrRunInProgress = errors.New("orchestrator: a pipeline run is already in progress")

// markerPersistTimeout bounds the marker write that runs detached from
// the run context during shutdown.
const markerPersistTimeout = 10 * time.Second

// Parser turns a transcript into an event draft.
type Parser interface {
	Parse(ctx context.Context, transcript, sourceFile string) (*event.Draft, error)
}

// Publisher pushes a draft to the calendar and the store.
type Publisher interface {
	Publish(ctx context.Context, draft *event.Draft) (*event.CalendarEvent, error)
}

// Notifier sends digests of newly stored events.
type Notifier interface {
	Run(ctx context.Context) (int, error)
}

// RunSummary describes one completed pipeline run.
type RunSummary struct {
	RunID      string
	Discovered int
	Done       int
	Failed     int
	Started    time.Time
	Finished   time.Time
}

// Orchestrator owns the pipeline schedule and the per-recording state
// machine. All external calls go through the retry policy with a
// per-call timeout; a single in-flight flag keeps runs from overlapping.
type Orchestrator struct {
	cfg         config.PipelineConfig
	source      filestore.Source
	transcriber *resilience.FallbackGroup[transcriber.Provider]
	parser      Parser
	publisher   Publisher
	store       eventstore.Store
	notifier    Notifier

	retry          *resilience.Policy
	metrics        *observe.Metrics
	notifyInterval time.Duration

	inFlight atomic.Bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotifier attaches a notifier that Run drives on its own cadence.
func WithNotifier(n Notifier, interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.notifier = n
		o.notifyInterval = interval
	}
}

// WithRetryPolicy replaces the retry policy built from the pipeline
// configuration. Intended for tests that cannot afford real backoff.
func WithRetryPolicy(p *resilience.Policy) Option {
	return func(o *Orchestrator) {
		o.retry = p
	}
}

// WithMetrics replaces the global metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator.
func New(cfg config.PipelineConfig, source filestore.Source, tg *resilience.FallbackGroup[transcriber.Provider],
	parser Parser, publisher Publisher, store eventstore.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		source:      source,
		transcriber: tg,
		parser:      parser,
		publisher:   publisher,
		store:       store,
		retry:       resilience.NewPolicy(cfg.MaxRetries, cfg.RetryDelayBase()),
		metrics:     observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run blocks, executing pipeline runs on the configured schedule and
// notification digests on theirs, until ctx is cancelled. The first run
// starts immediately.
func (o *Orchestrator) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(o.cfg.ScheduleInterval())
		defer ticker.Stop()
		for {
			if _, err := o.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
				slog.Error("pipeline run failed", "err", err)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})

	if o.notifier != nil {
		interval := o.notifyInterval
		if interval <= 0 {
			interval = o.cfg.ScheduleInterval()
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
				}
				count, err := o.notifier.Run(ctx)
				if err != nil && ctx.Err() == nil {
					slog.Error("notification run failed", "err", err)
					continue
				}
				if count > 0 {
					o.metrics.NotifiedEvents.Add(ctx, int64(count))
				}
			}
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// RunOnce executes a single pipeline run: list new recordings, process
// them with bounded parallelism, then advance the source marker past the
// ones that reached a terminal stage.
func (o *Orchestrator) RunOnce(ctx context.Context) (*RunSummary, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.metrics.PipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "skipped")))
		return nil, ErrRunInProgress
	}
	defer o.inFlight.Store(false)

	summary := &RunSummary{RunID: uuid.NewString(), Started: time.Now()}
	log := slog.With("runID", summary.RunID)

	marker, err := o.store.GetState(ctx, eventstore.StateKeySourceMarker)
	if err != nil {
		return nil, o.failRun(ctx, fmt.Errorf("orchestrator: load source marker: %w", err))
	}

	files, err := resilience.DoWithResult(ctx, o.retry, "list recordings", func(ctx context.Context) ([]filestore.File, error) {
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		files, err := o.source.ListNew(callCtx, marker)
		o.metrics.RecordProviderCall(ctx, "filestore", err)
		return files, err
	})
	if err != nil {
		return nil, o.failRun(ctx, fmt.Errorf("orchestrator: list recordings: %w", err))
	}
	summary.Discovered = len(files)
	if len(files) == 0 {
		log.Debug("no new recordings")
		summary.Finished = time.Now()
		o.metrics.PipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
		return summary, nil
	}
	log.Info("starting pipeline run", "recordings", len(files), "marker", marker)

	recordings := make([]*pipeline.Recording, len(files))
	var mu sync.Mutex

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for i, file := range files {
		g.Go(func() error {
			rec := o.process(groupCtx, file)
			mu.Lock()
			recordings[i] = rec
			mu.Unlock()
			// Recording failures stay inside the run; an error here would
			// cancel the sibling workers.
			return nil
		})
	}
	_ = g.Wait()

	for _, rec := range recordings {
		switch rec.Stage() {
		case pipeline.StageDone:
			summary.Done++
		case pipeline.StageFailed:
			summary.Failed++
		}
	}

	if err := o.advanceMarker(ctx, files, recordings); err != nil {
		log.Error("advancing source marker failed", "err", err)
	}

	summary.Finished = time.Now()
	o.metrics.PipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "ok")))
	log.Info("pipeline run finished",
		"discovered", summary.Discovered, "done", summary.Done, "failed", summary.Failed,
		"duration", summary.Finished.Sub(summary.Started))
	return summary, nil
}

func (o *Orchestrator) failRun(ctx context.Context, err error) error {
	o.metrics.PipelineRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("status", "error")))
	return err
}

// process walks one recording through the state machine. It never
// returns an error: failures are captured on the recording itself so one
// bad file cannot stop the run.
func (o *Orchestrator) process(ctx context.Context, file filestore.File) *pipeline.Recording {
	rec := pipeline.NewRecording(file.Ref, file.Name)
	log := slog.With("file", file.Name)

	o.metrics.ActiveRecordings.Add(ctx, 1)
	defer o.metrics.ActiveRecordings.Add(ctx, -1)
	defer o.cleanup(rec, log)
	defer o.finish(rec, log)

	// Download.
	if !o.runStage(ctx, rec, func() error {
		path, err := o.download(ctx, rec, file)
		if err != nil {
			return err
		}
		rec.TempPath = path
		return nil
	}) {
		return rec
	}

	// Transcribe.
	var transcript string
	if !o.runStage(ctx, rec, func() error {
		text, err := o.transcribe(ctx, rec)
		if err != nil {
			return err
		}
		transcript = text
		return nil
	}) {
		return rec
	}

	// Parse.
	var draft *event.Draft
	if !o.runStage(ctx, rec, func() error {
		d, err := resilience.DoWithResult(ctx, o.retry, "parse", func(ctx context.Context) (*event.Draft, error) {
			rec.Attempts++
			callCtx, cancel := o.callContext(ctx)
			defer cancel()
			draft, err := o.parser.Parse(callCtx, transcript, rec.Name)
			o.metrics.RecordProviderCall(ctx, "llm", err)
			return draft, classifyTimeout(ctx, err)
		})
		if err != nil {
			return err
		}
		draft = d
		return nil
	}) {
		return rec
	}

	// Publish and store.
	o.publishStage(ctx, rec, draft)
	return rec
}

// runStage checks for cancellation, runs fn, and moves the recording one
// stage forward. It returns false when the recording can make no further
// progress.
func (o *Orchestrator) runStage(ctx context.Context, rec *pipeline.Recording, fn func() error) bool {
	if ctx.Err() != nil {
		// Cancelled between stages: leave the recording non-terminal so
		// the next run picks the file up again.
		return false
	}
	start := time.Now()
	if err := fn(); err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		rec.Fail(err)
		return false
	}
	if err := rec.Advance(); err != nil {
		rec.Fail(err)
		return false
	}
	o.metrics.RecordStage(ctx, string(rec.Stage()), time.Since(start).Seconds())
	return true
}

// publishStage handles the tail of the state machine, where a single
// Publish call covers both the Published and the Stored transition.
func (o *Orchestrator) publishStage(ctx context.Context, rec *pipeline.Recording, draft *event.Draft) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	ev, err := resilience.DoWithResult(ctx, o.retry, "publish", func(ctx context.Context) (*event.CalendarEvent, error) {
		rec.Attempts++
		callCtx, cancel := o.callContext(ctx)
		defer cancel()
		ev, err := o.publisher.Publish(callCtx, draft)
		o.metrics.RecordProviderCall(ctx, "calendar", err)
		return ev, classifyTimeout(ctx, err)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		var partial *pipeline.PartialFailureError
		if errors.As(err, &partial) {
			// The remote event exists; only the local insert is missing.
			_ = rec.Advance()
		}
		rec.Fail(err)
		return
	}
	_ = rec.Advance() // Published
	o.metrics.RecordStage(ctx, string(rec.Stage()), time.Since(start).Seconds())
	_ = rec.Advance() // Stored
	_ = rec.Advance() // Done
	slog.Info("recording processed", "file", rec.Name, "remoteID", ev.RemoteID, "summary", ev.Summary)
}

func (o *Orchestrator) download(ctx context.Context, rec *pipeline.Recording, file filestore.File) (string, error) {
	return resilience.DoWithResult(ctx, o.retry, "download", func(ctx context.Context) (string, error) {
		rec.Attempts++
		callCtx, cancel := o.callContext(ctx)
		defer cancel()

		body, err := o.source.Fetch(callCtx, file.Ref)
		o.metrics.RecordProviderCall(ctx, "filestore", err)
		if err != nil {
			return "", classifyTimeout(ctx, err)
		}
		defer body.Close()

		tmp, err := os.CreateTemp(o.cfg.WorkDir, "voxcal-*."+o.cfg.AudioFormat)
		if err != nil {
			return "", pipeline.Fatal(fmt.Errorf("create temp file: %w", err))
		}
		if _, err := io.Copy(tmp, body); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", pipeline.Transient(fmt.Errorf("download %s: %w", file.Name, err))
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", pipeline.Transient(fmt.Errorf("flush %s: %w", file.Name, err))
		}
		return tmp.Name(), nil
	})
}

// transcribe retries each provider in the fallback group independently;
// the fallback engages when the primary fails fatally or runs out of
// retries.
func (o *Orchestrator) transcribe(ctx context.Context, rec *pipeline.Recording) (string, error) {
	return resilience.Execute(ctx, o.transcriber, func(ctx context.Context, p transcriber.Provider) (string, error) {
		return resilience.DoWithResult(ctx, o.retry, "transcribe", func(ctx context.Context) (string, error) {
			rec.Attempts++
			audio, err := os.Open(rec.TempPath)
			if err != nil {
				return "", pipeline.Fatal(fmt.Errorf("open %s: %w", rec.TempPath, err))
			}
			defer audio.Close()

			callCtx, cancel := o.callContext(ctx)
			defer cancel()
			text, err := p.Transcribe(callCtx, audio, rec.Name)
			o.metrics.RecordProviderCall(ctx, "transcriber", err)
			return text, classifyTimeout(ctx, err)
		})
	})
}

// cleanup removes the scratch file regardless of how the recording ended.
func (o *Orchestrator) cleanup(rec *pipeline.Recording, log *slog.Logger) {
	if rec.TempPath == "" {
		return
	}
	if err := os.Remove(rec.TempPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("removing temp file failed", "path", rec.TempPath, "err", err)
	}
	rec.TempPath = ""
}

// finish records terminal metrics and logs the outcome.
func (o *Orchestrator) finish(rec *pipeline.Recording, log *slog.Logger) {
	switch rec.Stage() {
	case pipeline.StageDone:
		o.metrics.Recordings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "done")))
		o.metrics.RecordingDuration.Record(context.Background(), rec.FinishedAt.Sub(rec.StartedAt).Seconds())
	case pipeline.StageFailed:
		o.metrics.Recordings.Add(context.Background(), 1, metric.WithAttributes(attribute.String("status", "failed")))
		o.metrics.RecordingDuration.Record(context.Background(), rec.FinishedAt.Sub(rec.StartedAt).Seconds())
		log.Error("recording failed", "stage", rec.FailedAt(), "attempts", rec.Attempts, "err", rec.Reason())
	default:
		log.Warn("recording interrupted", "stage", rec.Stage())
	}
}

// advanceMarker moves the source marker past the longest prefix of
// recordings (in modification order) that reached a terminal stage.
// Interrupted recordings keep the marker behind them so the next run
// sees their files again; failed ones are deliberately skipped for good.
func (o *Orchestrator) advanceMarker(ctx context.Context, files []filestore.File, recordings []*pipeline.Recording) error {
	type processed struct {
		file filestore.File
		rec  *pipeline.Recording
	}
	ordered := make([]processed, 0, len(files))
	for i := range files {
		if recordings[i] != nil {
			ordered = append(ordered, processed{file: files[i], rec: recordings[i]})
		}
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].file.ModifiedAt.Before(ordered[j].file.ModifiedAt)
	})

	var marker time.Time
	for _, p := range ordered {
		if !p.rec.Stage().Terminal() {
			break
		}
		marker = p.file.ModifiedAt
	}
	if marker.IsZero() {
		return nil
	}
	// The run context may already be cancelled when the run was
	// interrupted; losing the marker then would re-list recordings that
	// already reached Done. Persist on a detached context so the
	// completed prefix is never re-processed.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markerPersistTimeout)
	defer cancel()
	return o.store.SetState(persistCtx, eventstore.StateKeySourceMarker, marker.UTC().Format(time.RFC3339))
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := o.cfg.CallTimeout(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// classifyTimeout turns a per-call deadline into a transient error while
// the surrounding run is still alive, so a single slow provider call is
// retried instead of failing the recording.
func classifyTimeout(parent context.Context, err error) error {
	if err == nil || parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.Transient(err)
	}
	return err
}
