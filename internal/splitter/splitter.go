package splitter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"clipforge/internal/faults"
	"clipforge/internal/fileutil"
	"clipforge/internal/logging"
	"clipforge/internal/media/ffmpeg"
	"clipforge/internal/services"
	"clipforge/internal/store"
)

// ErrStopped is returned when the continue check halts a split between
// segments. Clips produced before the stop are already persisted.
var ErrStopped = errors.New("split stopped")

// Transcoder cuts segments and captures thumbnails.
type Transcoder interface {
	Segment(ctx context.Context, req ffmpeg.SegmentRequest, progress func(ffmpeg.Progress)) error
	Thumbnail(ctx context.Context, input, output string, atSeconds float64) error
}

// ClipSink persists produced clips.
type ClipSink interface {
	InsertClip(ctx context.Context, clip *store.Clip) error
}

// Options configures a Splitter.
type Options struct {
	Transcoder   Transcoder
	Sink         ClipSink
	ClipDir      string
	ThumbnailDir string
	// TempDir receives in-progress segment output. Empty writes directly
	// into ClipDir.
	TempDir string
	Logger  *slog.Logger
}

// Splitter turns one source into persisted clips, one segment at a time.
type Splitter struct {
	transcoder Transcoder
	sink       ClipSink
	clipDir    string
	thumbDir   string
	tempDir    string
	logger     *slog.Logger
}

// New constructs a Splitter.
func New(opts Options) *Splitter {
	return &Splitter{
		transcoder: opts.Transcoder,
		sink:       opts.Sink,
		clipDir:    opts.ClipDir,
		thumbDir:   opts.ThumbnailDir,
		tempDir:    opts.TempDir,
		logger:     logging.NewComponentLogger(opts.Logger, "splitter"),
	}
}

// Request describes one split.
type Request struct {
	JobID          string
	UserID         string
	Input          string
	SourceDuration float64
	ClipSeconds    float64
	Subtitles      bool

	// Continue is consulted before each segment; returning false stops the
	// split with ErrStopped. Nil means always continue.
	Continue func(ctx context.Context) (bool, error)
	// OnSegment is called after each clip is persisted.
	OnSegment func(done, total int)
}

// Result lists the clips persisted by a split, in index order.
type Result struct {
	Clips []*store.Clip
}

// Outputs returns the produced clip filenames.
func (r Result) Outputs() []string {
	out := make([]string, 0, len(r.Clips))
	for _, clip := range r.Clips {
		out = append(out, clip.Filename)
	}
	return out
}

// Split produces every planned segment in order. The first failing segment
// aborts the split; clips persisted before it remain.
func (s *Splitter) Split(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.JobID) == "" || strings.TrimSpace(req.Input) == "" {
		return Result{}, faults.New(faults.TypeValidation, "job id and input are required", faults.WithOperation("splitter", "split"))
	}
	segments := Plan(req.SourceDuration, req.ClipSeconds)
	if len(segments) == 0 {
		return Result{}, faults.New(faults.TypeValidation,
			fmt.Sprintf("source of %.1fs yields no clip of at least %.0fs", req.SourceDuration, MinSegmentSeconds),
			faults.WithOperation("splitter", "plan"),
			faults.WithJob(req.JobID),
		)
	}

	ctx = services.WithJobID(ctx, req.JobID)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("split started",
		logging.Int("segments", len(segments)),
		logging.Float64("source_seconds", req.SourceDuration),
		logging.Float64("clip_seconds", req.ClipSeconds),
		logging.Bool("subtitles", req.Subtitles),
		logging.String(logging.FieldEventType, "split_started"),
	)

	var result Result
	sampler := logging.NewProgressSampler(25)
	for _, segment := range segments {
		if req.Continue != nil {
			proceed, err := req.Continue(ctx)
			if err != nil {
				return result, faults.Wrap(faults.TypeDatastore, err, "check job state", faults.WithOperation("splitter", "split"), faults.WithJob(req.JobID))
			}
			if !proceed {
				logger.Info("split stopped before segment",
					logging.Int("segment", segment.Index),
					logging.Int("produced", len(result.Clips)),
					logging.String(logging.FieldEventType, "split_stopped"),
				)
				return result, ErrStopped
			}
		}

		clip, err := s.produce(ctx, req, segment, len(segments), sampler)
		if err != nil {
			return result, err
		}
		result.Clips = append(result.Clips, clip)
		if req.OnSegment != nil {
			req.OnSegment(len(result.Clips), len(segments))
		}
	}

	logger.Info("split completed",
		logging.Int("clips", len(result.Clips)),
		logging.String(logging.FieldEventType, "split_completed"),
	)
	return result, nil
}

func (s *Splitter) produce(ctx context.Context, req Request, segment Segment, total int, sampler *logging.ProgressSampler) (*store.Clip, error) {
	ctx = services.WithClipIndex(ctx, segment.Index)
	logger := logging.WithContext(ctx, s.logger)
	base := fmt.Sprintf("%s_clip_%d", req.JobID, segment.Index)
	clipPath := filepath.Join(s.clipDir, base+".mp4")
	thumbPath := filepath.Join(s.thumbDir, base+".jpg")
	workPath := clipPath
	if s.tempDir != "" {
		workPath = filepath.Join(s.tempDir, base+".part.mp4")
	}

	segmentErr := func(err error, message string) error {
		return faults.Wrap(faults.TypeMediaProcessing, err,
			fmt.Sprintf("segment %d/%d: %s", segment.Index, total, message),
			faults.WithOperation("splitter", "segment"),
			faults.WithJob(req.JobID),
			faults.WithField("segment", fmt.Sprint(segment.Index)),
		)
	}

	err := s.transcoder.Segment(ctx, ffmpeg.SegmentRequest{
		Input:     req.Input,
		Output:    workPath,
		Start:     segment.Start,
		Duration:  segment.Duration(),
		Subtitles: req.Subtitles,
	}, func(p ffmpeg.Progress) {
		if sampler.ShouldLog(segment.Index, p.Percent) {
			logger.Debug("segment progress",
				logging.Float64("percent", p.Percent),
				logging.Duration("out_time", p.OutTime),
			)
		}
	})
	if err != nil {
		_, _ = fileutil.RemoveIfExists(workPath)
		return nil, segmentErr(err, "transcode failed")
	}
	if workPath != clipPath {
		if err := promote(workPath, clipPath); err != nil {
			return nil, faults.Wrap(faults.TypeFilesystem, err,
				fmt.Sprintf("segment %d/%d: move output into place", segment.Index, total),
				faults.WithOperation("splitter", "segment"),
				faults.WithJob(req.JobID),
			)
		}
	}

	info, err := os.Stat(clipPath)
	if err != nil {
		return nil, faults.Wrap(faults.TypeFilesystem, err,
			fmt.Sprintf("segment %d/%d: output missing", segment.Index, total),
			faults.WithOperation("splitter", "segment"),
			faults.WithJob(req.JobID),
		)
	}

	if err := s.transcoder.Thumbnail(ctx, clipPath, thumbPath, segment.Duration()*0.1); err != nil {
		logging.WarnWithContext(logger, "thumbnail capture failed", "thumbnail_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check ffmpeg output for the clip"),
			logging.String(logging.FieldImpact, "clip is listed without a thumbnail"),
		)
		thumbPath = ""
	}

	clip := &store.Clip{
		JobID:           req.JobID,
		UserID:          req.UserID,
		Filename:        filepath.Base(clipPath),
		Path:            clipPath,
		DurationSeconds: segment.Duration(),
		SizeBytes:       info.Size(),
		ThumbnailPath:   thumbPath,
		Metadata: store.ClipMetadata{
			SegmentIndex:          segment.Index,
			SegmentTotal:          total,
			StartSeconds:          segment.Start,
			EndSeconds:            segment.End,
			SourceDurationSeconds: req.SourceDuration,
			Subtitles:             req.Subtitles,
		},
	}
	if err := s.sink.InsertClip(ctx, clip); err != nil {
		// An unrecorded clip would only be found by the orphan sweep.
		_, _ = fileutil.RemoveIfExists(clipPath)
		if thumbPath != "" {
			_, _ = fileutil.RemoveIfExists(thumbPath)
		}
		return nil, faults.Wrap(faults.TypeDatastore, err,
			fmt.Sprintf("segment %d/%d: persist clip", segment.Index, total),
			faults.WithOperation("splitter", "persist"),
			faults.WithJob(req.JobID),
		)
	}
	logger.Info("clip produced",
		logging.String("clip_id", clip.ID),
		logging.Float64("duration_seconds", clip.DurationSeconds),
		logging.Int64("size_bytes", clip.SizeBytes),
		logging.String(logging.FieldEventType, "clip_produced"),
	)
	return clip, nil
}

// promote moves a finished segment from scratch space into the clip
// directory, copying when the two sit on different filesystems.
func promote(from, to string) error {
	if err := os.Rename(from, to); err == nil {
		return nil
	}
	if _, err := fileutil.CopyFileVerified(from, to); err != nil {
		return err
	}
	_, err := fileutil.RemoveIfExists(from)
	return err
}
