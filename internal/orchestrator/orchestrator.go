// Package orchestrator drives one backup run end to end (C13):
// pre-hook, plan, dispatch across local/SFTP/object-store destinations,
// post-local bookkeeping, and post-hook, per spec.md §4.13's state
// machine (START -> PRE_HOOK -> PLAN -> DISPATCH -> POST_LOCAL ->
// POST_HOOK -> END).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/dedup"
	"github.com/qbak-io/backupd/internal/hooks"
	"github.com/qbak-io/backupd/internal/localcopy"
	"github.com/qbak-io/backupd/internal/manifest"
	"github.com/qbak-io/backupd/internal/notify"
	"github.com/qbak-io/backupd/internal/objectstore"
	"github.com/qbak-io/backupd/internal/retention"
	"github.com/qbak-io/backupd/internal/sftpengine"
	"github.com/qbak-io/backupd/internal/timestampstore"
)

// maxConcurrentSFTPHosts caps the SFTP dispatch fan-out regardless of how
// many servers are configured, per spec.md §5's worker-count policy.
const maxConcurrentSFTPHosts = 10

// Destinations bundles every sink kind a run may dispatch to.
type Destinations struct {
	LocalDirs     []string
	SFTPServers   []sftpengine.Server
	ObjectBuckets []objectstore.Bucket
}

// Options configures one run.
type Options struct {
	SourceDir       string
	ExcludePatterns []string
	Mode            manifest.Mode
	ParallelCopies  int
	Destinations    Destinations

	TimestampDir string

	PreHook     string
	PostHook    string
	HookTimeout time.Duration

	RetentionRule retention.Rule
	RunDedup      bool

	// EncryptionEnabled, when set, encrypts each local destination in
	// place after its copy completes, per spec.md §9's resolution of
	// encrypting post-copy at the destination rather than the source.
	EncryptionEnabled bool
	EncryptionCred    cryptocodec.Credential

	Notify notify.Sink
	DryRun bool
}

// PlanSummary is what dry-run reports, and what a real run computes
// before dispatching.
type PlanSummary struct {
	Mode          manifest.Mode
	EntryCount    int
	TotalBytes    int64
	LocalDirs     []string
	SFTPHosts     []string
	ObjectBuckets []string
}

// Result is the outcome of one full run.
type Result struct {
	Plan     PlanSummary
	Manifest manifest.Document
	Aborted  bool
	Reason   string
}

// Run executes the full state machine against opts. A pre-hook failure
// aborts before any file is touched; a post-hook failure is logged but
// does not change the run's success.
func Run(ctx context.Context, opts Options, logger *zap.Logger) (Result, error) {
	logger = logger.Named("orchestrator")
	startedAt := time.Now()

	// PRE_HOOK
	if err := hooks.Run(ctx, opts.PreHook, opts.HookTimeout, logger); err != nil {
		return Result{Aborted: true, Reason: "pre-hook failed"}, fmt.Errorf("orchestrator: pre-hook: %w", err)
	}

	// PLAN
	entries, err := localcopy.Enumerate(opts.SourceDir, opts.ExcludePatterns)
	if err != nil {
		return Result{Aborted: true, Reason: "enumeration failed"}, fmt.Errorf("orchestrator: enumerate: %w", err)
	}

	plan := buildPlan(opts, entries)
	if opts.DryRun {
		logger.Info("dry run plan",
			zap.String("mode", string(plan.Mode)),
			zap.Int("entries", plan.EntryCount),
			zap.Int64("total_bytes", plan.TotalBytes))
		return Result{Plan: plan}, nil
	}

	tsStore := timestampstore.New(opts.TimestampDir)
	lastBackup, err := tsStore.GetLastBackup()
	if err != nil {
		return Result{Aborted: true, Reason: "timestamp store read failed"}, fmt.Errorf("orchestrator: read last backup time: %w", err)
	}
	lastFull, err := tsStore.GetLastFullBackup()
	if err != nil {
		return Result{Aborted: true, Reason: "timestamp store read failed"}, fmt.Errorf("orchestrator: read last full backup time: %w", err)
	}

	rec := manifest.New(opts.Mode, startedAt)

	// DISPATCH
	dispatchLocal(entries, opts, lastBackup, lastFull, rec, logger)
	dispatchSFTP(entries, opts, rec, logger)
	dispatchObjectStore(ctx, entries, opts, rec, logger)

	doc := rec.Document(time.Since(startedAt))

	// POST_LOCAL
	postLocal(opts, tsStore, doc, logger)

	// POST_HOOK
	if err := hooks.Run(ctx, opts.PostHook, opts.HookTimeout, logger); err != nil {
		logger.Warn("post-hook failed, backup already succeeded", zap.Error(err))
	}

	if opts.Notify != nil {
		opts.Notify.Notify(notify.Outcome{
			Mode:         string(doc.Mode),
			FilesCopied:  doc.FilesCopied,
			FilesSkipped: doc.FilesSkipped,
			FilesFailed:  doc.FilesFailed,
		})
	}

	return Result{Plan: plan, Manifest: doc}, nil
}

func buildPlan(opts Options, entries []localcopy.Entry) PlanSummary {
	plan := PlanSummary{
		Mode:       opts.Mode,
		EntryCount: len(entries),
		LocalDirs:  opts.Destinations.LocalDirs,
	}
	for _, e := range entries {
		plan.TotalBytes += e.Size
	}
	for _, s := range opts.Destinations.SFTPServers {
		plan.SFTPHosts = append(plan.SFTPHosts, s.Host)
	}
	for _, b := range opts.Destinations.ObjectBuckets {
		plan.ObjectBuckets = append(plan.ObjectBuckets, b.Name)
	}
	return plan
}

// classifyForLocal splits entries into those that pass the mode
// predicate against destDir and those that don't. Local copy has no
// built-in mode awareness (per spec.md §4.7), so the orchestrator
// decides here rather than inside the engine.
func classifyForLocal(entries []localcopy.Entry, mode manifest.Mode, destDir string, lastBackup, lastFull time.Time) (toCopy, toSkip []localcopy.Entry) {
	cutoff := lastBackup
	if mode == manifest.ModeDifferential {
		cutoff = lastFull
	}

	for _, e := range entries {
		if mode == manifest.ModeFull {
			toCopy = append(toCopy, e)
			continue
		}

		destPath := e.AbsPath(destDir)
		if _, err := os.Stat(destPath); os.IsNotExist(err) {
			toCopy = append(toCopy, e)
			continue
		}

		if e.ModTime.After(cutoff) {
			toCopy = append(toCopy, e)
			continue
		}
		toSkip = append(toSkip, e)
	}
	return toCopy, toSkip
}

func dispatchLocal(entries []localcopy.Entry, opts Options, lastBackup, lastFull time.Time, rec *manifest.Recorder, logger *zap.Logger) {
	for _, dir := range opts.Destinations.LocalDirs {
		toCopy, toSkip := classifyForLocal(entries, opts.Mode, dir, lastBackup, lastFull)
		for _, e := range toSkip {
			rec.RecordSkip(e.RelPath)
		}
		localcopy.CopyAll(toCopy, opts.SourceDir, dir, rec, opts.ParallelCopies, logger)

		if opts.EncryptionEnabled && len(toCopy) > 0 {
			if err := cryptocodec.EncryptDirectory(dir, opts.EncryptionCred); err != nil {
				logger.Warn("post-copy encryption failed", zap.String("dir", dir), zap.Error(err))
			}
		}
	}
}

func dispatchSFTP(entries []localcopy.Entry, opts Options, rec *manifest.Recorder, logger *zap.Logger) {
	servers := opts.Destinations.SFTPServers
	if len(servers) == 0 {
		return
	}

	concurrency := len(servers)
	if concurrency > maxConcurrentSFTPHosts {
		concurrency = maxConcurrentSFTPHosts
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, server := range servers {
		wg.Add(1)
		sem <- struct{}{}
		go func(server sftpengine.Server) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := sftpengine.SyncServer(entries, opts.SourceDir, server, opts.Mode, rec, logger); err != nil {
				logger.Warn("sftp sync failed, continuing with other destinations", zap.String("host", server.Host), zap.Error(err))
			}
		}(server)
	}
	wg.Wait()
}

func dispatchObjectStore(ctx context.Context, entries []localcopy.Entry, opts Options, rec *manifest.Recorder, logger *zap.Logger) {
	for _, bucket := range opts.Destinations.ObjectBuckets {
		client, err := objectstore.NewClient(ctx, bucket)
		if err != nil {
			logger.Warn("object store client setup failed", zap.String("bucket", bucket.Name), zap.Error(err))
			continue
		}
		objectstore.UploadTree(ctx, entries, opts.SourceDir, client, opts.Mode, rec, logger)
	}
}

func postLocal(opts Options, tsStore *timestampstore.Store, doc manifest.Document, logger *zap.Logger) {
	for _, dir := range opts.Destinations.LocalDirs {
		if _, err := manifest.Save(dir, doc); err != nil {
			logger.Warn("failed to write manifest", zap.String("dir", dir), zap.Error(err))
		}
	}

	now := time.Now()
	if err := tsStore.UpdateLastBackup(now); err != nil {
		logger.Warn("failed to update last backup timestamp", zap.Error(err))
	}
	if opts.Mode == manifest.ModeFull {
		if err := tsStore.UpdateLastFullBackup(now); err != nil {
			logger.Warn("failed to update last full backup timestamp", zap.Error(err))
		}
	}

	for _, dir := range opts.Destinations.LocalDirs {
		if opts.RetentionRule.MaxAgeDays == 0 && opts.RetentionRule.MaxCount == 0 {
			continue
		}
		if _, err := retention.Reap(dir, opts.RetentionRule, logger); err != nil {
			logger.Warn("retention failed", zap.String("dir", dir), zap.Error(err))
		}
	}

	if opts.RunDedup && len(opts.Destinations.LocalDirs) > 0 {
		if _, err := dedup.Run(opts.Destinations.LocalDirs, logger); err != nil {
			logger.Warn("dedup failed", zap.Error(err))
		}
	}
}
