package main

import (
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evgrid/stationselect/internal/dataset"
	"github.com/evgrid/stationselect/internal/policy"
	"github.com/evgrid/stationselect/internal/prep"
	"github.com/evgrid/stationselect/internal/reinforce"
	"github.com/evgrid/stationselect/internal/removal"
	"github.com/evgrid/stationselect/internal/runlog"
	"github.com/evgrid/stationselect/internal/selection"
)

// #region config

type appConfig struct {
	DataPath    string  `json:"data_path"`
	LabelColumn string  `json:"label_column"`
	DropColumns string  `json:"drop_columns"` // comma-separated
	Episodes    int     `json:"episodes"`
	Gamma       float64 `json:"gamma"`
	Epsilon     float64 `json:"epsilon"`
	EntropyCoef float64 `json:"entropy_coef"`
	LearnRate   float64 `json:"learning_rate"`
	WeightDecay float64 `json:"weight_decay"`
	LogEvery    int     `json:"log_every"`
	Seed        int64   `json:"seed"`
	DBPath      string  `json:"db_path"`
}

func defaultConfig() *appConfig {
	tc := reinforce.DefaultConfig()
	return &appConfig{
		LabelColumn: "station",
		Episodes:    tc.Episodes,
		Gamma:       tc.Gamma,
		Epsilon:     tc.Epsilon,
		EntropyCoef: tc.EntropyCoef,
		LearnRate:   1e-3,
		WeightDecay: 1e-4,
		LogEvery:    tc.LogEvery,
		Seed:        1,
	}
}

func (c *appConfig) validate() error {
	if c.DataPath == "" {
		return fmt.Errorf("--data is required")
	}
	if c.LabelColumn == "" {
		return fmt.Errorf("--label-column is required")
	}
	if c.Episodes <= 0 {
		return fmt.Errorf("--episodes must be positive, got %d", c.Episodes)
	}
	if c.Gamma < 0 || c.Gamma > 1 {
		return fmt.Errorf("--gamma must be in [0,1], got %v", c.Gamma)
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("--epsilon must be in [0,1], got %v", c.Epsilon)
	}
	if c.LearnRate <= 0 {
		return fmt.Errorf("--learning-rate must be positive, got %v", c.LearnRate)
	}
	return nil
}

func (c *appConfig) dropList() []string {
	if c.DropColumns == "" {
		return nil
	}
	parts := strings.Split(c.DropColumns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// #endregion config

var cfg *appConfig

var rootCmd = &cobra.Command{
	Use:   "stationselect",
	Short: "Train a selection policy over a city dataset",
	Long: `Trains a REINFORCE policy to pick rows worth designating as charging
station sites, then applies it in repeated removal passes until it selects
nothing more. Optionally records the run to a SQLite log for inspection.`,
	RunE: run,
}

func init() {
	cfg = defaultConfig()

	rootCmd.Flags().StringVar(&cfg.DataPath, "data", cfg.DataPath, "Path to the input CSV")
	rootCmd.Flags().StringVar(&cfg.LabelColumn, "label-column", cfg.LabelColumn, "Header name of the 0/1 target column")
	rootCmd.Flags().StringVar(&cfg.DropColumns, "drop-columns", cfg.DropColumns, "Comma-separated header names to exclude from features")

	rootCmd.Flags().IntVar(&cfg.Episodes, "episodes", cfg.Episodes, "Training episodes")
	rootCmd.Flags().Float64Var(&cfg.Gamma, "gamma", cfg.Gamma, "Discount factor")
	rootCmd.Flags().Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "Probability of a uniform-random action")
	rootCmd.Flags().Float64Var(&cfg.EntropyCoef, "entropy-coef", cfg.EntropyCoef, "Entropy bonus coefficient")
	rootCmd.Flags().Float64Var(&cfg.LearnRate, "learning-rate", cfg.LearnRate, "AdamW learning rate")
	rootCmd.Flags().Float64Var(&cfg.WeightDecay, "weight-decay", cfg.WeightDecay, "AdamW decoupled weight decay")
	rootCmd.Flags().IntVar(&cfg.LogEvery, "log-every", cfg.LogEvery, "Progress line interval in episodes (0 disables)")
	rootCmd.Flags().Int64Var(&cfg.Seed, "seed", cfg.Seed, "RNG seed for training and removal sampling")

	rootCmd.Flags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite run log path (empty disables logging)")

	// Bind flags to viper for environment variable support
	viper.BindPFlags(rootCmd.Flags())
	viper.SetEnvPrefix("STATIONSELECT")
	viper.AutomaticEnv()
}

func run(cmd *cobra.Command, args []string) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	ds, err := prep.Load(cfg.DataPath, prep.Options{
		LabelColumn: cfg.LabelColumn,
		DropColumns: cfg.dropList(),
	})
	if err != nil {
		return fmt.Errorf("load data: %w", err)
	}
	log.Printf("[DATA] Loaded %d rows with %d features from %s", ds.N(), ds.Dim(), cfg.DataPath)

	rng := rand.New(rand.NewSource(cfg.Seed))
	net, err := policy.NewNetwork(ds.Dim(), rng)
	if err != nil {
		return fmt.Errorf("build network: %w", err)
	}
	opt := policy.NewAdamW(cfg.LearnRate, cfg.WeightDecay)

	trainCfg := reinforce.Config{
		Gamma:       cfg.Gamma,
		Episodes:    cfg.Episodes,
		Epsilon:     cfg.Epsilon,
		EntropyCoef: cfg.EntropyCoef,
		LogEvery:    cfg.LogEvery,
	}
	trainer := reinforce.New(selection.NewEnv(ds), net, opt, trainCfg, rng)

	var store *runlog.Store
	var runRec runlog.RunRecord
	if cfg.DBPath != "" {
		store, err = runlog.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open run log: %w", err)
		}
		defer store.Close()

		runRec, err = store.BeginRun(cfg.DataPath, cfg)
		if err != nil {
			return fmt.Errorf("begin run: %w", err)
		}
		log.Printf("[RUNLOG] Recording run %s to %s", runRec.RunID, cfg.DBPath)

		trainer.OnEpisode = func(ep int, loss, totalReward float64) {
			rec := runlog.EpisodeRecord{Episode: ep, PolicyLoss: loss, TotalReward: totalReward}
			if err := store.RecordEpisode(runRec.RunID, rec); err != nil {
				log.Printf("[RUNLOG] record episode %d: %v", ep, err)
			}
		}
	}

	if err := trainer.Run(); err != nil {
		if store != nil {
			if ferr := store.FinishRun(runRec.RunID, runlog.StatusFailed); ferr != nil {
				log.Printf("[RUNLOG] finish run: %v", ferr)
			}
		}
		return fmt.Errorf("training: %w", err)
	}

	pool := dataset.NewPool(ds)
	report, err := removal.Run(pool, net, rng)
	if err != nil {
		if store != nil {
			if ferr := store.FinishRun(runRec.RunID, runlog.StatusFailed); ferr != nil {
				log.Printf("[RUNLOG] finish run: %v", ferr)
			}
		}
		return fmt.Errorf("removal: %w", err)
	}

	selected, positives := 0, 0
	for _, rec := range report {
		selected += rec.SelectedCount
		positives += rec.PositiveCount
		if store != nil {
			p := runlog.PassRecord{
				Pass:          rec.Pass,
				SelectedCount: rec.SelectedCount,
				PositiveCount: rec.PositiveCount,
				Indices:       rec.SelectedIndices,
			}
			if err := store.RecordPass(runRec.RunID, p); err != nil {
				log.Printf("[RUNLOG] record pass %d: %v", rec.Pass, err)
			}
		}
	}
	log.Printf("[DONE] %d passes selected %d rows total (%d positive), %d rows remain",
		len(report), selected, positives, pool.Size())

	if store != nil {
		if err := store.FinishRun(runRec.RunID, runlog.StatusFinished); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
