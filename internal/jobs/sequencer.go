package jobs

import (
	"context"
	"os"
	"sync"
	"time"

	"fitclip/internal/encode"
	"fitclip/internal/logger"
	"fitclip/internal/planner"
	"fitclip/internal/probe"
)

// Prober extracts source media properties. Implemented by probe.Prober.
type Prober interface {
	Probe(ctx context.Context, path string) (*probe.Result, error)
}

// Invoker runs the external encoder for a planned job.
// Implemented by encode.Encoder.
type Invoker interface {
	Encode(ctx context.Context, sourcePath, outputPath string, plan *planner.Plan,
		duration time.Duration, progressCh chan<- encode.Progress) (*encode.Result, error)
}

// Options configure where the sequencer places in-progress files.
type Options struct {
	// TempDir overrides where encodes are written before finalizing.
	// Empty means next to the final output.
	TempDir string
}

// Sequencer drains the queue one job at a time, driving each through
// probe, plan, and encode. Exactly one job is ever in flight.
type Sequencer struct {
	queue   *Queue
	prober  Prober
	invoker Invoker
	plan    func(planner.Input) (*planner.Plan, error)
	opts    Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Currently running job (for cancellation)
	currentMu sync.Mutex
	currentID string
	jobCancel context.CancelFunc
	jobDone   chan struct{} // Closed when the current job finishes
}

// NewSequencer creates a sequencer over the given queue and tools
func NewSequencer(queue *Queue, prober Prober, invoker Invoker, opts Options) *Sequencer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		queue:   queue,
		prober:  prober,
		invoker: invoker,
		plan:    planner.Compute,
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the processing loop
func (s *Sequencer) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop terminates the loop and waits for any in-flight job to unwind.
// An interrupted job keeps its persisted status so it can be requeued
// on the next startup.
func (s *Sequencer) Stop() {
	s.cancel()
	s.wg.Wait()
}

// run is the main processing loop
func (s *Sequencer) run() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		job := s.queue.NextQueued()
		if job == nil {
			// Wait for a wake signal, with a fallback poll in case one
			// was dropped
			select {
			case <-s.ctx.Done():
				return
			case <-s.queue.Wake():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}

		s.process(job)

		if s.ctx.Err() == nil && !s.queue.HasQueued() {
			s.queue.NotifyIdle()
		}
	}
}

// Cancel stops the job with the given ID. For the job currently being
// processed, the external process is terminated and the call returns
// once processing has actually stopped. Queued jobs are cancelled
// directly.
func (s *Sequencer) Cancel(id string) error {
	s.currentMu.Lock()
	if s.currentID == id && s.jobCancel != nil {
		s.jobCancel()
		done := s.jobDone
		s.currentMu.Unlock()
		if done != nil {
			<-done
		}
		return nil
	}
	s.currentMu.Unlock()

	return s.queue.Cancel(id)
}

// CurrentJobID returns the ID of the job being processed, or ""
func (s *Sequencer) CurrentJobID() string {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.currentID
}

// process drives a single job through the pipeline stages
func (s *Sequencer) process(job *Job) {
	jobCtx, jobCancel := context.WithCancel(s.ctx)
	defer jobCancel()

	s.currentMu.Lock()
	s.currentID = job.ID
	s.jobCancel = jobCancel
	s.jobDone = make(chan struct{})
	s.currentMu.Unlock()

	defer func() {
		s.currentMu.Lock()
		s.currentID = ""
		s.jobCancel = nil
		if s.jobDone != nil {
			close(s.jobDone)
			s.jobDone = nil
		}
		s.currentMu.Unlock()
	}()

	if err := s.queue.MarkProbing(job.ID); err != nil {
		// Cancelled or removed between pickup and start
		logger.Debug("Job not startable", "job_id", job.ID, "error", err)
		return
	}
	logger.Info("Job started", "job_id", job.ID, "file", job.SourcePath)

	probed, err := s.prober.Probe(jobCtx, job.SourcePath)
	if err != nil {
		s.finishStage(jobCtx, job.ID, "", err)
		return
	}
	if err := s.queue.MarkPlanning(job.ID, probed); err != nil {
		logger.Debug("Job left probing early", "job_id", job.ID, "error", err)
		return
	}

	plan, err := s.plan(PlanInput(job.Settings, probed))
	if err != nil {
		s.finishStage(jobCtx, job.ID, "", err)
		return
	}
	tempPath := encode.BuildTempPath(job.OutputPath, s.opts.TempDir)
	if err := s.queue.MarkEncoding(job.ID, plan, tempPath); err != nil {
		logger.Debug("Job left planning early", "job_id", job.ID, "error", err)
		return
	}

	logger.Info("Encoding",
		"job_id", job.ID,
		"video_kbps", plan.VideoKbps,
		"audio_kbps", plan.AudioKbps,
		"encoder", plan.Encoder)
	if plan.Encoder == EncoderHardware {
		logger.Warn("Hardware encoder may overshoot the size target", "job_id", job.ID)
	}

	progressCh := make(chan encode.Progress, 10)
	go func() {
		for p := range progressCh {
			s.queue.UpdateProgress(job.ID, p.Percent, p.Speed, p.ETA)
		}
	}()

	result, err := s.invoker.Encode(jobCtx, job.SourcePath, tempPath, plan, probed.Duration, progressCh)
	if err != nil {
		s.finishStage(jobCtx, job.ID, tempPath, err)
		return
	}

	if err := encode.Finalize(tempPath, job.OutputPath); err != nil {
		os.Remove(tempPath)
		logger.Error("Job failed", "job_id", job.ID, "error", err.Error())
		_ = s.queue.Fail(job.ID, err.Error())
		return
	}

	if result.OutputSize > job.Settings.TargetSizeBytes {
		logger.Warn("Output exceeds size target",
			"job_id", job.ID,
			"size", result.OutputSize,
			"target", job.Settings.TargetSizeBytes)
	}
	logger.Info("Job complete",
		"job_id", job.ID,
		"output", job.OutputPath,
		"size", result.OutputSize,
		"took", result.Duration.Round(time.Second).String())
	_ = s.queue.Complete(job.ID, result.OutputSize)
}

// finishStage resolves a stage error into cancellation, shutdown, or
// failure, and cleans up any partial output.
func (s *Sequencer) finishStage(jobCtx context.Context, id, tempPath string, err error) {
	if tempPath != "" {
		os.Remove(tempPath)
	}

	if jobCtx.Err() != nil {
		if s.ctx.Err() == nil {
			logger.Info("Job cancelled", "job_id", id)
			_ = s.queue.Cancel(id)
		} else {
			// Shutdown: leave the persisted status for startup recovery
			logger.Info("Job interrupted by shutdown", "job_id", id)
		}
		return
	}

	logger.Error("Job failed", "job_id", id, "error", err.Error())
	_ = s.queue.Fail(id, err.Error())
}

// PlanInput builds the planner input from a settings snapshot and probe
// result. The sequencer uses it before every encode; the plan command uses
// it to preview the same computation without encoding.
func PlanInput(settings Settings, pr *probe.Result) planner.Input {
	return planner.Input{
		TargetSizeBytes:  settings.TargetSizeBytes,
		Duration:         pr.Duration,
		SourceWidth:      pr.Width,
		SourceHeight:     pr.Height,
		SourceFrameRate:  pr.FrameRate,
		SourceAudioKbps:  pr.AudioKbps,
		HasAudio:         pr.HasAudio,
		AudioBitrateKbps: settings.AudioBitrateKbps,
		MaxHeight:        settings.MaxHeight,
		FrameRateCap:     settings.FrameRateCap,
		OverheadFactor:   settings.OverheadFactor,
		Encoder:          settings.Encoder,
		SpeedPreset:      settings.SpeedPreset,
	}
}
