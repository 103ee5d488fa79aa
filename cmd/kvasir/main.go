// Package main provides the Kvasir CLI entry point.
package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/orneryd/kvasir/pkg/config"
	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/eval"
	"github.com/orneryd/kvasir/pkg/kvasir"
	"github.com/orneryd/kvasir/pkg/recommend"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "kvasir",
		Short: "Kvasir - Diversity-Aware Content Recommender",
		Long: `Kvasir builds per-user recommendation lists from explicit ratings
and item content vectors.

Features:
  • User taste profiles from rating-weighted content vectors
  • K-means catalog clustering with kmeans++ seeding
  • Cosine scoring of every (user, item) pair
  • Per-cluster allocation proportional to catalog prevalence
  • Scores rescaled onto the input rating scale
  • Optional BadgerDB persistence of finished runs
  • Offline holdout evaluation with pass/fail thresholds`,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Chatty progress output")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Kvasir v%s (%s)\n", version, commit)
		},
	})

	// Predict command
	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Run the recommendation pipeline",
		Long:  "Load ratings and item vectors, run the full pipeline, and write per-user predictions",
		RunE:  runPredict,
	}
	predictCmd.Flags().String("ratings", "", "Ratings file (.csv or .jsonl)")
	predictCmd.Flags().String("items", "", "Item vectors file (.csv or .jsonl)")
	predictCmd.Flags().Int("predictions", 10, "Recommendations per user")
	predictCmd.Flags().Int("clusters", 10, "Number of clusters (0 = auto)")
	predictCmd.Flags().Int("partitions", 20, "Scoring worker partitions")
	predictCmd.Flags().Int64("seed", 1, "Clustering RNG seed")
	predictCmd.Flags().Bool("store", false, "Persist the run to BadgerDB")
	predictCmd.Flags().String("data-dir", "./data/kvasir", "Run store directory")
	predictCmd.Flags().String("output", "", "Write predictions to this file (default: stdout)")
	predictCmd.Flags().String("format", "csv", "Prediction output format: csv or json")
	rootCmd.AddCommand(predictCmd)

	// Evaluate command
	evaluateCmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate prediction quality on a holdout split",
		Long: `Hold out a fraction of each user's ratings, run the pipeline on the
rest, and score the predictions against the held-out ratings`,
		RunE: runEvaluate,
	}
	evaluateCmd.Flags().String("ratings", "", "Ratings file (.csv or .jsonl)")
	evaluateCmd.Flags().String("items", "", "Item vectors file (.csv or .jsonl)")
	evaluateCmd.Flags().Int("k", 10, "Ranking cutoff for Precision@K and HitRate")
	evaluateCmd.Flags().Float64("holdout", 0.2, "Holdout fraction per user")
	evaluateCmd.Flags().Int64("seed", 42, "Holdout split RNG seed")
	evaluateCmd.Flags().Int("clusters", 10, "Number of clusters (0 = auto)")
	evaluateCmd.Flags().String("threshold", "", "Override thresholds (rmse=1.5,p=0.1,hit=0.5,cov=0.1)")
	evaluateCmd.Flags().String("output", "summary", "Output format: summary, json, compact")
	evaluateCmd.Flags().String("save", "", "Save results to JSON file")
	rootCmd.AddCommand(evaluateCmd)

	// Fractions command
	fractionsCmd := &cobra.Command{
		Use:   "fractions",
		Short: "Show catalog cluster prevalence",
		Long:  "Cluster the catalog and print each cluster's share, the same shares the allocator uses",
		RunE:  runFractions,
	}
	fractionsCmd.Flags().String("ratings", "", "Ratings file (.csv or .jsonl)")
	fractionsCmd.Flags().String("items", "", "Item vectors file (.csv or .jsonl)")
	fractionsCmd.Flags().Int("clusters", 10, "Number of clusters (0 = auto)")
	fractionsCmd.Flags().Bool("json", false, "Print as JSON")
	rootCmd.AddCommand(fractionsCmd)

	// Runs command (persisted run management)
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage persisted recommendation runs",
	}
	runsCmd.PersistentFlags().String("data-dir", "./data/kvasir", "Run store directory")
	runsCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored runs, oldest first",
		RunE:  runRunsList,
	})
	runsCmd.AddCommand(&cobra.Command{
		Use:   "show [run-id]",
		Short: "Show one run's options and stats",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsShow,
	})
	runsCmd.AddCommand(&cobra.Command{
		Use:   "top [run-id] [user]",
		Short: "Show one user's recommendation list from a stored run",
		Args:  cobra.ExactArgs(2),
		RunE:  runRunsTop,
	})
	runsCmd.AddCommand(&cobra.Command{
		Use:   "delete [run-id]",
		Short: "Delete a stored run and its predictions",
		Args:  cobra.ExactArgs(1),
		RunE:  runRunsDelete,
	})
	rootCmd.AddCommand(runsCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig layers defaults, the optional --config file, and KVASIR_
// environment variables, then applies the --verbose flag.
func loadConfig(cmd *cobra.Command) *config.Config {
	path, _ := cmd.Flags().GetString("config")
	cfg := config.LoadFromEnvOrFile(path)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	return cfg
}

// applyDataFlags copies --ratings/--items onto the config when set.
func applyDataFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("ratings") {
		cfg.Data.RatingsPath, _ = flags.GetString("ratings")
	}
	if flags.Changed("items") {
		cfg.Data.ItemsPath, _ = flags.GetString("items")
	}
}

func runPredict(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	applyDataFlags(cmd, cfg)

	flags := cmd.Flags()
	if flags.Changed("predictions") {
		cfg.Pipeline.NumPredictions, _ = flags.GetInt("predictions")
	}
	if flags.Changed("partitions") {
		cfg.Pipeline.Partitions, _ = flags.GetInt("partitions")
	}
	if flags.Changed("clusters") {
		cfg.Cluster.K, _ = flags.GetInt("clusters")
	}
	if flags.Changed("seed") {
		cfg.Cluster.Seed, _ = flags.GetInt64("seed")
	}
	if persist, _ := flags.GetBool("store"); persist {
		cfg.Store.Enabled = true
	}
	if flags.Changed("data-dir") {
		cfg.Store.DataDir, _ = flags.GetString("data-dir")
	}

	cfg.Runtime.Apply()

	fmt.Printf("🚀 Kvasir v%s\n", version)
	fmt.Printf("   Ratings:     %s\n", cfg.Data.RatingsPath)
	fmt.Printf("   Items:       %s\n", cfg.Data.ItemsPath)
	fmt.Printf("   Predictions: %d per user\n", cfg.Pipeline.NumPredictions)
	if cfg.Cluster.K == 0 {
		fmt.Println("   Clusters:    auto")
	} else {
		fmt.Printf("   Clusters:    %d\n", cfg.Cluster.K)
	}
	fmt.Println()

	engine, err := kvasir.Open(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	loaded, err := engine.Load("", "")
	if err != nil {
		return fmt.Errorf("loading data: %w", err)
	}
	fmt.Printf("📥 Loaded %d ratings, %d items (%d lines skipped)\n",
		loaded.RatingsLoaded, loaded.ItemsLoaded, loaded.LinesSkipped)

	ctx := cmd.Context()
	var predictions []recommend.Prediction
	var stats *recommend.Stats
	if cfg.Store.Enabled {
		run, p, s, err := engine.RecommendAndStore(ctx)
		if err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}
		predictions, stats = p, s
		fmt.Printf("💾 Run %s saved to %s\n", run.ID, cfg.Store.DataDir)
	} else {
		predictions, stats, err = engine.Recommend(ctx)
		if err != nil {
			return fmt.Errorf("running pipeline: %w", err)
		}
	}

	fmt.Printf("✅ %d predictions for %d users in %v\n",
		stats.Predictions, stats.UsersScored, stats.Duration)
	fmt.Printf("   Rating range %.2f..%.2f, raw score range %.3f..%.3f\n",
		stats.RatingMin, stats.RatingMax, stats.ScoreMin, stats.ScoreMax)
	fmt.Println()

	outPath, _ := flags.GetString("output")
	format, _ := flags.GetString("format")

	var w io.Writer = os.Stdout
	if outPath != "" && outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch format {
	case "json":
		err = writePredictionsJSON(w, predictions)
	default:
		err = writePredictionsCSV(w, predictions)
	}
	if err != nil {
		return fmt.Errorf("writing predictions: %w", err)
	}
	if outPath != "" && outPath != "-" {
		fmt.Printf("💾 Predictions written to %s\n", outPath)
	}
	return nil
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	applyDataFlags(cmd, cfg)

	flags := cmd.Flags()
	if flags.Changed("k") {
		cfg.Eval.K, _ = flags.GetInt("k")
	}
	if flags.Changed("holdout") {
		cfg.Eval.HoldoutFraction, _ = flags.GetFloat64("holdout")
	}
	if flags.Changed("seed") {
		cfg.Eval.Seed, _ = flags.GetInt64("seed")
	}
	if flags.Changed("clusters") {
		cfg.Cluster.K, _ = flags.GetInt("clusters")
	}

	cfg.Runtime.Apply()

	engine, err := kvasir.Open(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.Load("", ""); err != nil {
		return fmt.Errorf("loading data: %w", err)
	}

	thresholds := eval.DefaultThresholds()
	if s, _ := flags.GetString("threshold"); s != "" {
		thresholds = parseThresholds(s)
	}

	fmt.Println("🚀 Running evaluation...")
	result, err := engine.EvaluateWithThresholds(cmd.Context(), thresholds)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}

	reporter := eval.NewReporter(os.Stdout)
	output, _ := flags.GetString("output")
	switch output {
	case "json":
		if err := reporter.PrintJSON(result); err != nil {
			return err
		}
	case "compact":
		reporter.PrintCompact(result)
	default:
		reporter.PrintSummary(result)
	}

	if savePath, _ := flags.GetString("save"); savePath != "" {
		if err := reporter.SaveJSON(result, savePath); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  Failed to save results: %v\n", err)
		} else {
			fmt.Printf("💾 Results saved to %s\n", savePath)
		}
	}

	if !result.Passed {
		engine.Close()
		os.Exit(1)
	}
	return nil
}

func runFractions(cmd *cobra.Command, args []string) error {
	cfg := loadConfig(cmd)
	applyDataFlags(cmd, cfg)
	if cmd.Flags().Changed("clusters") {
		cfg.Cluster.K, _ = cmd.Flags().GetInt("clusters")
	}

	engine, err := kvasir.Open(cfg)
	if err != nil {
		return err
	}
	defer engine.Close()

	if _, err := engine.Load("", ""); err != nil {
		return fmt.Errorf("loading data: %w", err)
	}

	fractions, err := engine.Fractions(cmd.Context())
	if err != nil {
		return fmt.Errorf("clustering catalog: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		data, err := json.MarshalIndent(fractions, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	ids := make([]int, 0, len(fractions))
	for id := range fractions {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	fmt.Printf("📊 Catalog prevalence across %d clusters:\n", len(ids))
	for _, id := range ids {
		fmt.Printf("   Cluster %2d: %.2f\n", id, fractions[id])
	}
	return nil
}

// openRunStore opens an engine with the run store forced on, for the runs
// subcommands that work without a dataset.
func openRunStore(cmd *cobra.Command) (*kvasir.Engine, error) {
	cfg := loadConfig(cmd)
	cfg.Store.Enabled = true
	if cmd.Flags().Changed("data-dir") {
		cfg.Store.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	return kvasir.Open(cfg)
}

func runRunsList(cmd *cobra.Command, args []string) error {
	engine, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	runs, err := engine.ListRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs stored.")
		return nil
	}

	fmt.Printf("%-38s %-20s %12s %8s\n", "RUN ID", "CREATED", "PREDICTIONS", "USERS")
	for _, run := range runs {
		fmt.Printf("%-38s %-20s %12d %8d\n",
			run.ID,
			run.CreatedAt.Format("2006-01-02 15:04:05"),
			run.Stats.Predictions,
			run.Stats.UsersScored)
	}
	fmt.Printf("\n%d run(s)\n", len(runs))
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	engine, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	run, err := engine.GetRun(args[0])
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runRunsTop(cmd *cobra.Command, args []string) error {
	engine, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	predictions, err := engine.TopFor(args[0], dataset.UserID(args[1]))
	if err != nil {
		return err
	}
	if len(predictions) == 0 {
		fmt.Printf("No predictions for user %s in run %s\n", args[1], args[0])
		return nil
	}

	fmt.Printf("Top picks for %s:\n", args[1])
	for i, p := range predictions {
		fmt.Printf("%3d. %-24s %.4f\n", i+1, p.Item, p.Score)
	}
	return nil
}

func runRunsDelete(cmd *cobra.Command, args []string) error {
	engine, err := openRunStore(cmd)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.DeleteRun(args[0]); err != nil {
		return err
	}
	fmt.Printf("🗑️  Run %s deleted\n", args[0])
	return nil
}

// writePredictionsCSV writes user,item,score rows.
func writePredictionsCSV(w io.Writer, predictions []recommend.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"user", "item", "score"}); err != nil {
		return err
	}
	for _, p := range predictions {
		record := []string{
			string(p.User),
			string(p.Item),
			strconv.FormatFloat(p.Score, 'f', 4, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// writePredictionsJSON writes the predictions as one indented JSON array.
func writePredictionsJSON(w io.Writer, predictions []recommend.Prediction) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(predictions)
}

// parseThresholds parses "rmse=1.5,p=0.1,hit=0.5,cov=0.1" style overrides.
func parseThresholds(s string) eval.Thresholds {
	t := eval.DefaultThresholds()
	for _, pair := range strings.Split(s, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		var val float64
		fmt.Sscanf(parts[1], "%f", &val)
		switch parts[0] {
		case "rmse":
			t.RMSE = val
		case "p", "precision":
			t.PrecisionK = val
		case "hit", "hitrate":
			t.HitRate = val
		case "cov", "coverage":
			t.Coverage = val
		}
	}
	return t
}
