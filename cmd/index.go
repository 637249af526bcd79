package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync/atomic"
	"time"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/database"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Inspect and maintain the embedding index",
	Long: `Inspect and maintain the on-disk embedding index in INDEX_DIR.

Subcommands:
  stats   Print index statistics
  verify  Check that the index and metadata files agree
  push    Copy every indexed identity to the configured SQL mirrors`,
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print index statistics",
	Args:  cobra.NoArgs,
	RunE:  runIndexStats,
}

var indexVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check index and metadata consistency",
	Long: `Load the index with the reject recovery policy and report any problem
instead of repairing it:

  - vector and metadata counts differ
  - a stored vector is not its own nearest neighbour (--sample entries)
  - an exemplar image is missing on disk (--check-images)
  - a configured SQL mirror disagrees with the index

Exits with an error when any check fails.`,
	Args: cobra.NoArgs,
	RunE: runIndexVerify,
}

var indexPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Backfill the SQL mirrors from the index",
	Long: `Push every indexed identity to the configured SQL mirrors (DATABASE_URL,
MARIADB_DSN). Pushes are upserts keyed by content hash, so the command can be
re-run safely.`,
	Args: cobra.NoArgs,
	RunE: runIndexPush,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexStatsCmd, indexVerifyCmd, indexPushCmd)

	indexStatsCmd.Flags().Bool("json", false, "Output as JSON")

	indexVerifyCmd.Flags().Int("sample", 100, "Number of stored vectors to self-query (0 = all)")
	indexVerifyCmd.Flags().Bool("check-images", false, "Check that every exemplar image exists")
	indexVerifyCmd.Flags().Bool("json", false, "Output as JSON")

	indexPushCmd.Flags().Int("concurrency", constants.WorkerPoolSize, "Number of parallel mirror writes")
}

// IndexStatsOutput is the result of index stats.
type IndexStatsOutput struct {
	database.StoreStats
	Dir     string         `json:"dir"`
	PerUser map[string]int `json:"per_user"`
	Mirrors map[string]int `json:"mirrors,omitempty"`
}

func runIndexStats(cmd *cobra.Command, args []string) error {
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()
	cfg := config.Load()

	store, _, err := openStore(cfg, slog.Default(), nil)
	if err != nil {
		return err
	}

	out := IndexStatsOutput{
		StoreStats: store.Stats(),
		Dir:        cfg.Store.Dir,
		PerUser:    make(map[string]int),
	}
	for _, rec := range store.Records() {
		out.PerUser[rec.UserID]++
	}

	if cfg.MirrorsEnabled() {
		sinks, err := openMirrors(ctx, cfg)
		if err != nil {
			return err
		}
		defer sinks.Close()
		out.Mirrors = make(map[string]int)
		for name, m := range sinks.named() {
			n, err := m.Count(ctx)
			if err != nil {
				return fmt.Errorf("counting %s mirror: %w", name, err)
			}
			out.Mirrors[name] = n
		}
	}

	if jsonOutput {
		return outputJSON(out)
	}

	fmt.Printf("Index:       %s (%s, dim %d)\n", out.Dir, out.IndexKind, out.Dimension)
	fmt.Printf("Embeddings:  %d\n", out.Count)
	fmt.Printf("Identities:  %d\n", out.Identities)
	if out.Suspect {
		fmt.Println("Status:      SUSPECT (last write failed)")
	}
	if len(out.PerUser) > 0 {
		users := make([]string, 0, len(out.PerUser))
		for u := range out.PerUser {
			users = append(users, u)
		}
		sort.Strings(users)
		fmt.Println("\nExemplars per identity:")
		for _, u := range users {
			fmt.Printf("  %-32s %d\n", u, out.PerUser[u])
		}
	}
	for name, n := range out.Mirrors {
		fmt.Printf("Mirror %-9s %d rows\n", name+":", n)
	}
	return nil
}

// VerifyReport lists every consistency problem found.
type VerifyReport struct {
	Count    int      `json:"count"`
	Checked  int      `json:"checked"`
	Problems []string `json:"problems"`
}

func (r *VerifyReport) problem(format string, args ...any) {
	r.Problems = append(r.Problems, fmt.Sprintf(format, args...))
}

// selfMatchTolerance is how far below 1.0 a vector's score against itself may fall.
const selfMatchTolerance = 1e-3

// verifySelfMatches checks that each sampled vector finds itself first.
func verifySelfMatches(store *database.Store, entries []database.Entry, report *VerifyReport) {
	for _, e := range entries {
		hits, err := store.Search(e.Embedding, 1)
		if err != nil {
			report.problem("ordinal %d: search failed: %v", e.Ordinal, err)
			continue
		}
		if len(hits) == 0 || hits[0].Score < 1-selfMatchTolerance {
			report.problem("ordinal %d (%s): not its own nearest neighbour", e.Ordinal, e.Record.UserID)
			continue
		}
		if hits[0].Ordinal != e.Ordinal && store.Label(hits[0].Ordinal) != e.Record.UserID {
			report.problem("ordinal %d (%s): identical vector stored as %s at ordinal %d",
				e.Ordinal, e.Record.UserID, store.Label(hits[0].Ordinal), hits[0].Ordinal)
		}
		report.Checked++
	}
}

// verifyMirrors compares mirror row counts and, for PostgreSQL, the stored vectors.
func verifyMirrors(ctx context.Context, sinks *mirrors, entries []database.Entry, total int, report *VerifyReport) {
	for name, m := range sinks.named() {
		n, err := m.Count(ctx)
		if err != nil {
			report.problem("%s mirror: count failed: %v", name, err)
			continue
		}
		if n != total {
			report.problem("%s mirror holds %d rows, index holds %d", name, n, total)
		}
	}
	if sinks.postgres == nil {
		return
	}
	for _, e := range entries {
		vec, err := sinks.postgres.Get(ctx, e.Record.ContentHash)
		if err != nil {
			report.problem("postgres mirror: ordinal %d: %v", e.Ordinal, err)
			continue
		}
		if vec == nil {
			report.problem("postgres mirror: ordinal %d (%s) missing", e.Ordinal, e.Record.ContentHash)
			continue
		}
		if !sameVector(vec, e.Embedding) {
			report.problem("postgres mirror: ordinal %d (%s) has a different embedding", e.Ordinal, e.Record.ContentHash)
		}
	}
}

func sameVector(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-6 {
			return false
		}
	}
	return true
}

func runIndexVerify(cmd *cobra.Command, args []string) error {
	sample := mustGetInt(cmd, "sample")
	checkImages := mustGetBool(cmd, "check-images")
	jsonOutput := mustGetBool(cmd, "json")
	ctx := context.Background()
	cfg := config.Load()
	report := &VerifyReport{Problems: []string{}}

	cfg.Store.RecoveryPolicy = database.RecoveryReject
	store, _, err := openStore(cfg, slog.Default(), nil)
	switch {
	case errors.Is(err, database.ErrMisaligned):
		report.problem("%v", err)
	case err != nil:
		return err
	}

	if store != nil {
		entries := store.Entries()
		report.Count = len(entries)
		if len(entries) != store.Count() {
			report.problem("%d vectors readable, index reports %d", len(entries), store.Count())
		}

		sampled := entries
		if sample > 0 && sample < len(entries) {
			step := len(entries) / sample
			sampled = make([]database.Entry, 0, sample)
			for i := 0; i < len(entries) && len(sampled) < sample; i += step {
				sampled = append(sampled, entries[i])
			}
		}
		verifySelfMatches(store, sampled, report)

		if checkImages {
			for _, e := range entries {
				if _, err := os.Stat(e.Record.ImagePath); err != nil {
					report.problem("ordinal %d: exemplar %s: %v", e.Ordinal, e.Record.ImagePath, err)
				}
			}
		}

		if cfg.MirrorsEnabled() {
			sinks, err := openMirrors(ctx, cfg)
			if err != nil {
				return err
			}
			defer sinks.Close()
			verifyMirrors(ctx, sinks, sampled, len(entries), report)
		}
	}

	if jsonOutput {
		if err := outputJSON(report); err != nil {
			return err
		}
	} else {
		fmt.Printf("Index %s: %d embeddings, %d self-matched\n", cfg.Store.Dir, report.Count, report.Checked)
		for _, p := range report.Problems {
			fmt.Printf("  PROBLEM: %s\n", p)
		}
		if len(report.Problems) == 0 {
			fmt.Println("OK")
		}
	}

	if len(report.Problems) > 0 {
		return fmt.Errorf("index verification found %d problem(s)", len(report.Problems))
	}
	return nil
}

func runIndexPush(cmd *cobra.Command, args []string) error {
	concurrency := mustGetInt(cmd, "concurrency")
	ctx := context.Background()
	cfg := config.Load()
	startTime := time.Now()

	if !cfg.MirrorsEnabled() {
		return errors.New("DATABASE_URL or MARIADB_DSN environment variable is required")
	}

	store, _, err := openStore(cfg, slog.Default(), nil)
	if err != nil {
		return err
	}
	sinks, err := openMirrors(ctx, cfg)
	if err != nil {
		return err
	}
	defer sinks.Close()

	entries := store.Entries()
	if len(entries) == 0 {
		fmt.Println("Index is empty, nothing to push.")
		return nil
	}

	targets := sinks.named()
	fmt.Printf("Pushing %d entries to %d mirror(s)\n\n", len(entries), len(targets))
	bar := newProgressBar(len(entries)*len(targets), "Pushing", "rows")

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(concurrency, 1))
	for name, m := range targets {
		for _, e := range entries {
			g.Go(func() error {
				defer bar.Add(1)
				pushCtx, cancel := context.WithTimeout(gctx, constants.MirrorPushTimeout*time.Second)
				defer cancel()
				if err := m.Push(pushCtx, e); err != nil {
					failed.Add(1)
					slog.Warn("mirror push failed", "mirror", name, "ordinal", e.Ordinal, "error", err)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}

	fmt.Printf("\n\nPushed %d rows in %s", len(entries)*len(targets)-int(failed.Load()), time.Since(startTime).Round(time.Millisecond))
	if n := failed.Load(); n > 0 {
		fmt.Printf(", %d failed\n", n)
		return fmt.Errorf("%d mirror writes failed", n)
	}
	fmt.Println()
	return nil
}
