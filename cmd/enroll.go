package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/gate"
	"github.com/kozaktomas/face-gate/internal/imagestore"
	"github.com/kozaktomas/face-gate/internal/pipeline"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll [file...]",
	Short: "Enroll photos from disk",
	Long: `Enroll photos under a claimed identity, exactly as the HTTP API does.

Either name the identity with --user and pass the photos as arguments, or
point --dir at a directory with one sub-directory per identity:

  people/
    alice/  a1.jpg a2.jpg
    bob/    b1.png

Examples:
  face-gate enroll --user alice a1.jpg a2.jpg
  face-gate enroll --dir ./people --concurrency 8`,
	RunE: runEnroll,
}

func init() {
	rootCmd.AddCommand(enrollCmd)

	enrollCmd.Flags().String("user", "", "Identity to enroll the given files under")
	enrollCmd.Flags().String("dir", "", "Directory with one sub-directory of photos per identity")
	enrollCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of photos processed in parallel")
	enrollCmd.Flags().Bool("json", false, "Output as JSON")
}

// enrollJob is one photo to enroll.
type enrollJob struct {
	UserID string
	Path   string
}

// EnrollFailure describes a photo that was not enrolled.
type EnrollFailure struct {
	UserID string `json:"user_id"`
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// EnrollSummary is the result of an enroll run.
type EnrollSummary struct {
	Total         int             `json:"total"`
	Enrolled      int             `json:"enrolled"`
	Unusable      int             `json:"unusable"`
	Failures      []EnrollFailure `json:"failures,omitempty"`
	IndexSize     int             `json:"index_size"`
	DurationMs    int64           `json:"duration_ms"`
	DurationHuman string          `json:"duration_human,omitempty"`
}

// collectEnrollJobs resolves --user/--dir and the file arguments into jobs.
func collectEnrollJobs(user, dir string, files []string) ([]enrollJob, error) {
	switch {
	case user != "" && dir != "":
		return nil, errors.New("--user and --dir are mutually exclusive")
	case user != "":
		if len(files) == 0 {
			return nil, errors.New("no files given for --user")
		}
		jobs := make([]enrollJob, 0, len(files))
		for _, f := range files {
			jobs = append(jobs, enrollJob{UserID: user, Path: f})
		}
		return jobs, nil
	case dir != "":
		if len(files) > 0 {
			return nil, errors.New("file arguments cannot be combined with --dir")
		}
		return scanIdentityDir(dir)
	default:
		return nil, errors.New("either --user or --dir is required")
	}
}

// scanIdentityDir lists the photos of every identity sub-directory of root.
func scanIdentityDir(root string) ([]enrollJob, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", root, err)
	}

	var jobs []enrollJob
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		userDir := filepath.Join(root, entry.Name())
		photos, err := os.ReadDir(userDir)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", userDir, err)
		}
		for _, photo := range photos {
			if photo.IsDir() || !isImageFile(photo.Name()) {
				continue
			}
			jobs = append(jobs, enrollJob{UserID: entry.Name(), Path: filepath.Join(userDir, photo.Name())})
		}
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("no photos found under %s", root)
	}
	return jobs, nil
}

// enrollAll runs every job through the pipeline with at most concurrency in
// flight. Rejections are collected; an unexpected failure stops the run.
func enrollAll(ctx context.Context, p *pipeline.Pipeline, jobs []enrollJob, concurrency int,
	progress func()) (EnrollSummary, error) {
	summary := EnrollSummary{Total: len(jobs)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))

	for _, job := range jobs {
		g.Go(func() error {
			defer progress()

			data, err := os.ReadFile(job.Path)
			if err != nil {
				mu.Lock()
				summary.Failures = append(summary.Failures, EnrollFailure{
					UserID: job.UserID, Path: job.Path, Kind: "read", Reason: err.Error(),
				})
				mu.Unlock()
				return nil
			}

			res, err := p.Enroll(gctx, pipeline.Upload{
				Data:     data,
				Filename: filepath.Base(job.Path),
				UserID:   job.UserID,
			})

			mu.Lock()
			defer mu.Unlock()
			var rej *pipeline.Rejection
			switch {
			case err == nil && res.Usable:
				summary.Enrolled++
			case err == nil:
				summary.Unusable++
			case errors.As(err, &rej) && rej.Kind != pipeline.KindUnexpected:
				reason := rej.Message
				if rej.Kind == pipeline.KindIdentityConflict {
					reason = fmt.Sprintf("face already enrolled as %q", rej.Label)
				}
				summary.Failures = append(summary.Failures, EnrollFailure{
					UserID: job.UserID, Path: job.Path, Kind: string(rej.Kind), Reason: reason,
				})
			default:
				return fmt.Errorf("enrolling %s: %w", job.Path, err)
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Slice(summary.Failures, func(i, j int) bool {
		return summary.Failures[i].Path < summary.Failures[j].Path
	})
	return summary, err
}

func runEnroll(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	jobs, err := collectEnrollJobs(mustGetString(cmd, "user"), mustGetString(cmd, "dir"), args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	cfg := config.Load()
	logger := slog.Default()
	startTime := time.Now()

	sinks, err := openMirrors(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	store, pusher, err := openStore(cfg, logger, sinks.list())
	if err != nil {
		return err
	}
	defer pusher.Wait()
	p := pipeline.New(store, newOracle(cfg), imagestore.New(cfg.Images.Dir), gate.NopNotifier{}, logger)

	progress := func() {}
	if !jsonOutput {
		fmt.Printf("Enrolling %d photo(s) into %s (%d indexed)\n\n", len(jobs), cfg.Store.Dir, store.Count())
		bar := newProgressBar(len(jobs), "Enrolling", "photos")
		progress = func() { bar.Add(1) }
	}

	summary, runErr := enrollAll(ctx, p, jobs, mustGetInt(cmd, "concurrency"), progress)
	summary.IndexSize = store.Count()
	elapsed := time.Since(startTime)
	summary.DurationMs = elapsed.Milliseconds()
	summary.DurationHuman = elapsed.Round(time.Millisecond).String()

	if jsonOutput {
		if err := outputJSON(summary); err != nil {
			return err
		}
		return runErr
	}

	fmt.Println()
	for _, f := range summary.Failures {
		fmt.Printf("Skipped %s (%s): %s\n", f.Path, f.UserID, f.Reason)
	}
	fmt.Printf("\nEnrolled %d of %d photo(s), %d below quality threshold, %d skipped\n",
		summary.Enrolled, summary.Total, summary.Unusable, len(summary.Failures))
	fmt.Printf("Index now holds %d embeddings (%s)\n", summary.IndexSize, summary.DurationHuman)
	return runErr
}
