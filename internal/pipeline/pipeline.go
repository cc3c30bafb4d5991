// Package pipeline drives one file at a time from detection to a recorded load:
// tracker lookup, normalization, schema inference, bulk load and tracker update.
//
// Every failure is contained at the file boundary. It is classified,
// reported through the sink and leaves the tracker untouched so the file is
// retried on its next event or scan.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
	"github.com/JonMunkholm/watchload/internal/loader"
	"github.com/JonMunkholm/watchload/internal/normalize"
	"github.com/JonMunkholm/watchload/internal/report"
	"github.com/JonMunkholm/watchload/internal/schema"
)

// State is where a file ended up.
type State string

const (
	StateDetected    State = "detected"
	StateDeduped     State = "deduped"
	StateEligible    State = "eligible"
	StateNormalizing State = "normalizing"
	StateInferring   State = "inferring"
	StateLoading     State = "loading"
	StateRecorded    State = "recorded"
	StateFailed      State = "failed"
)

// Scope decides how much a non-canonical file's event normalizes.
type Scope string

const (
	// ScopeDirectory sweeps the whole watched directory on every event.
	ScopeDirectory Scope = "directory"
	// ScopeFile normalizes only the file the event is for.
	ScopeFile Scope = "file"
)

// ParseScope validates a scope name.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeDirectory:
		return ScopeDirectory, nil
	case ScopeFile:
		return ScopeFile, nil
	default:
		return "", fmt.Errorf("unknown normalize scope %q", s)
	}
}

// Tracker is the processed-file store the pipeline consults and updates.
type Tracker interface {
	ShouldProcess(ctx context.Context, filename string, modifiedAt time.Time) (bool, error)
	Record(ctx context.Context, filename string, modifiedAt time.Time) error
}

// Loader loads typed columns into a destination table.
type Loader interface {
	LoadColumns(ctx context.Context, table string, cols []schema.Column, rows [][]string) (loader.Outcome, error)
}

// Outcome is the result of processing one file.
type Outcome struct {
	Path     string
	File     string
	State    State
	Stage    State
	Table    string
	Rows     int64
	Status   loader.Status
	Encoding normalize.Encoding
	Skipped  int
	Err      error
	Duration time.Duration
}

// Failed reports whether the file ended in the failed state.
func (o Outcome) Failed() bool { return o.State == StateFailed }

// Entry renders the outcome for reporting sinks.
func (o Outcome) Entry() report.Entry {
	e := report.Entry{File: o.File, Table: o.Table, Rows: o.Rows}
	switch {
	case o.State == StateFailed:
		msg := ingesterr.MapError(o.Err)
		e.Level, e.Status, e.Code = report.LevelError, "failed", msg.Code
		e.Message = fmt.Sprintf("%s during %s", msg.Message, o.Stage)
	case o.State == StateDeduped:
		e.Level, e.Status = report.LevelInfo, "deduped"
		e.Message = "already processed, skipped"
	case o.Status == loader.StatusSkippedExists:
		e.Level, e.Status = report.LevelWarn, string(loader.StatusSkippedExists)
		e.Message = fmt.Sprintf("table %s already exists, skipped", o.Table)
	default:
		e.Level, e.Status = report.LevelSuccess, "loaded"
		e.Message = fmt.Sprintf("loaded %d rows into %s", o.Rows, o.Table)
		if o.Encoding == normalize.EncodingLatin1 {
			e.Message += " (decoded as latin-1)"
		}
		if o.Skipped > 0 {
			e.Message += fmt.Sprintf(" (%d malformed rows skipped)", o.Skipped)
		}
	}
	return e
}

// Options configures a Pipeline.
type Options struct {
	// Dir is the watched directory.
	Dir   string
	Scope Scope
	// Workers above one lets distinct files run in parallel.
	Workers      int
	IgnoreHidden bool
	Sink         report.Sink
	Logger       *slog.Logger
}

// Pipeline processes files from the watched directory.
type Pipeline struct {
	dir          string
	outputDir    string
	scope        Scope
	ignoreHidden bool

	tracker Tracker
	norm    *normalize.Normalizer
	loader  Loader
	sink    report.Sink
	log     *slog.Logger

	limiter *Limiter
	locks   *keyedMutex
	// sources is held shared while a file's source is resolved and read, and
	// exclusively by a directory sweep, which moves canonical files away.
	sources sync.RWMutex
}

// New wires a pipeline from its collaborators.
func New(opts Options, tr Tracker, norm *normalize.Normalizer, ld Loader) (*Pipeline, error) {
	if opts.Dir == "" {
		return nil, errors.New("pipeline: watched directory is required")
	}
	if tr == nil || norm == nil || ld == nil {
		return nil, errors.New("pipeline: tracker, normalizer and loader are required")
	}
	if opts.Scope == "" {
		opts.Scope = ScopeDirectory
	}
	if opts.Sink == nil {
		opts.Sink = report.Discard
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve watched directory: %w", err)
	}
	outputDir, err := filepath.Abs(norm.OutputDir())
	if err != nil {
		return nil, fmt.Errorf("resolve output directory: %w", err)
	}
	return &Pipeline{
		dir:          dir,
		outputDir:    outputDir,
		scope:        opts.Scope,
		ignoreHidden: opts.IgnoreHidden,
		tracker:      tr,
		norm:         norm,
		loader:       ld,
		sink:         opts.Sink,
		log:          opts.Logger,
		limiter:      NewLimiter(opts.Workers),
		locks:        newKeyedMutex(),
	}, nil
}

// Dir returns the absolute watched directory.
func (p *Pipeline) Dir() string { return p.dir }

// CheckDir verifies dir exists and is a directory, and reports whether it is empty.
func CheckDir(dir string) (empty bool, err error) {
	info, err := os.Stat(dir)
	if err != nil {
		return false, ingesterr.New(ingesterr.KindDirectory, "startup", dir, err)
	}
	if !info.IsDir() {
		return false, ingesterr.New(ingesterr.KindDirectory, "startup", dir, errors.New("not a directory"))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, ingesterr.New(ingesterr.KindDirectory, "startup", dir, err)
	}
	return len(entries) == 0, nil
}

// Accept reports whether a path from the watcher should be processed.
// Output files, scratch files and (optionally) hidden files are not.
func (p *Pipeline) Accept(path string) bool {
	name := filepath.Base(path)
	if normalize.IsTemp(name) {
		return false
	}
	if p.ignoreHidden && strings.HasPrefix(name, ".") {
		return false
	}
	return !p.inOutputDir(path)
}

func (p *Pipeline) inOutputDir(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(p.outputDir, abs)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// ProcessFile runs one file through the pipeline and reports the outcome.
// It never returns an error; failures are carried in the Outcome.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) Outcome {
	start := time.Now()
	out := p.process(ctx, path)
	out.Duration = time.Since(start)

	log := p.log.With("path", out.Path, "state", string(out.State))
	if out.Failed() {
		log.Error("file failed", "stage", string(out.Stage), "kind", ingesterr.KindOf(out.Err).String(),
			"error", out.Err, "duration_ms", out.Duration.Milliseconds())
	} else {
		log.Debug("file finished", "table", out.Table, "rows", out.Rows, "duration_ms", out.Duration.Milliseconds())
	}

	p.sink.Report(ctx, out.Entry())
	return out
}

func (p *Pipeline) process(ctx context.Context, path string) Outcome {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	file := filepath.Base(path)
	out := Outcome{Path: path, File: file, State: StateDetected, Stage: StateDetected}

	unlock := p.locks.Lock(file)
	defer unlock()

	fail := func(stage State, err error) Outcome {
		out.State, out.Stage, out.Err = StateFailed, stage, err
		return out
	}

	release := p.holdSources(path)
	defer func() {
		if release != nil {
			release()
		}
	}()

	src, info, err := p.resolveSource(path)
	if err != nil {
		return fail(StateDetected, err)
	}
	out.Path = src

	ok, err := p.tracker.ShouldProcess(ctx, file, info.ModTime())
	if err != nil {
		return fail(StateDetected, ingesterr.New(ingesterr.KindInternal, "tracker", file, err))
	}
	if !ok {
		out.State = StateDeduped
		return out
	}
	out.State, out.Stage = StateEligible, StateEligible

	table, err := loader.SanitizeTableName(file)
	if err != nil {
		return fail(StateEligible, ingesterr.New(ingesterr.KindLoad, "sanitize", file, err))
	}
	out.Table = table

	out.Stage = StateNormalizing
	res, err := p.normalize(ctx, src)
	if err != nil {
		return fail(StateNormalizing, err)
	}
	t, err := p.norm.Normalize(ctx, res.Output)
	if err != nil {
		return fail(StateNormalizing, err)
	}
	out.Encoding, out.Skipped = t.Encoding, t.Skipped
	if res.Encoding != "" {
		out.Encoding, out.Skipped = res.Encoding, res.Skipped
	}
	release()
	release = nil

	out.Stage = StateInferring
	cols := schema.InferTable(t)
	if err := schema.CheckColumns(cols); err != nil {
		return fail(StateInferring, ingesterr.New(ingesterr.KindSchemaConflict, "infer", file, err))
	}

	out.Stage = StateLoading
	lo, err := p.loader.LoadColumns(ctx, table, cols, t.Rows)
	if err != nil {
		return fail(StateLoading, err)
	}
	out.Status, out.Rows = lo.Status, lo.Rows

	// The load is committed; record it even if a stop was requested meanwhile.
	if err := p.tracker.Record(context.WithoutCancel(ctx), file, info.ModTime()); err != nil {
		return fail(StateLoading, ingesterr.New(ingesterr.KindInternal, "tracker", file, err))
	}
	out.State, out.Stage = StateRecorded, StateRecorded
	return out
}

// sweeps reports whether processing path runs a directory sweep.
func (p *Pipeline) sweeps(path string) bool {
	return p.scope == ScopeDirectory && filepath.Dir(path) == p.dir &&
		normalize.FormatOf(path) != normalize.FormatCanonical
}

// holdSources locks the watched directory's sources for reading: exclusively
// when path triggers a sweep, shared otherwise.
func (p *Pipeline) holdSources(path string) func() {
	if p.sweeps(path) {
		p.sources.Lock()
		return p.sources.Unlock
	}
	p.sources.RLock()
	return p.sources.RUnlock
}

// resolveSource stats path. A canonical file a sweep already moved into the
// output directory is found there instead.
func (p *Pipeline) resolveSource(path string) (string, os.FileInfo, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) && normalize.FormatOf(path) == normalize.FormatCanonical {
		moved := filepath.Join(p.outputDir, filepath.Base(path))
		if minfo, merr := os.Stat(moved); merr == nil {
			return moved, minfo, nil
		}
	}
	if err != nil {
		return path, nil, ingesterr.New(ingesterr.KindInternal, "stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return path, nil, ingesterr.New(ingesterr.KindUnsupported, "stat", path, errors.New("not a regular file"))
	}
	return path, info, nil
}

// normalize produces the canonical file for src. Canonical sources are their own output.
func (p *Pipeline) normalize(ctx context.Context, src string) (normalize.Result, error) {
	if normalize.FormatOf(src) == normalize.FormatCanonical {
		return normalize.Result{Source: src, Output: src}, nil
	}

	if p.sweeps(src) {
		results, err := p.norm.NormalizeDir(ctx, p.dir)
		if err != nil {
			return normalize.Result{}, err
		}
		for _, r := range results {
			if r.Source == src {
				return r, r.Err
			}
		}
		return normalize.Result{}, ingesterr.New(ingesterr.KindInternal, "normalize", src,
			errors.New("file was not part of the sweep"))
	}

	// File scope, or a file in a subdirectory the sweep does not reach.
	r := p.norm.NormalizeFile(ctx, src)
	return r, r.Err
}

// Scan processes every regular file directly inside the watched directory,
// in name order. The error is set only when the directory cannot be read.
func (p *Pipeline) Scan(ctx context.Context) ([]Outcome, error) {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return nil, ingesterr.New(ingesterr.KindDirectory, "scan", p.dir, err)
	}

	var paths []string
	for _, e := range entries {
		path := filepath.Join(p.dir, e.Name())
		if e.Type().IsRegular() && p.Accept(path) {
			paths = append(paths, path)
		}
	}

	p.log.Info("scan started", "dir", p.dir, "files", len(paths))
	start := time.Now()

	outcomes := make([]Outcome, 0, len(paths))
	failed := 0
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		o := p.ProcessFile(ctx, path)
		if o.Failed() {
			failed++
		}
		outcomes = append(outcomes, o)
	}

	p.log.Info("scan completed", "files", len(outcomes), "failed", failed,
		"duration_ms", time.Since(start).Milliseconds())
	return outcomes, nil
}
