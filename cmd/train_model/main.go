package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gestureecho/config"
	"gestureecho/db"
	"gestureecho/gesture"
	"gestureecho/logging"
	"gestureecho/pipeline"
	"gestureecho/storage"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

type options struct {
	configPath string
	dataPath   string
	modelPath  string
	encoder    string
	dbPath     string
	trees      int
	asJSON     bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "train_model",
		Short:         "Train the gesture classifier from collected samples",
		Long:          `Reads the collected glove samples, fits the gesture classifier and writes the model and label encoder next to the server's data files.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				err = fmt.Errorf("load config: %w", err)
				fmt.Fprintf(cmd.ErrOrStderr(), "Error: %v\n", err)
				return err
			}
			opts.apply(&cfg)
			return runTraining(cmd.Context(), cfg, cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "config.yaml", "path to config file")
	flags.StringVar(&opts.dataPath, "data", "", "sample CSV file (overrides config)")
	flags.StringVar(&opts.modelPath, "model", "", "model output path (overrides config)")
	flags.StringVar(&opts.encoder, "encoder", "", "label encoder output path (overrides config)")
	flags.StringVar(&opts.dbPath, "db", "", "training history database (overrides config)")
	flags.IntVar(&opts.trees, "trees", 0, "number of trees (overrides config)")
	flags.BoolVar(&opts.asJSON, "json", false, "print the training result as JSON")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log progress to stderr")
	return cmd
}

func (o *options) apply(cfg *config.Config) {
	if o.dataPath != "" {
		cfg.Paths.Data = o.dataPath
	}
	if o.modelPath != "" {
		cfg.Paths.Model = o.modelPath
	}
	if o.encoder != "" {
		cfg.Paths.Encoder = o.encoder
	}
	if o.dbPath != "" {
		cfg.Database.Path = o.dbPath
	}
	if o.trees > 0 {
		cfg.ML.Forest.NEstimators = o.trees
	}
}

func runTraining(ctx context.Context, cfg config.Config, out io.Writer, opts *options) error {
	logger := zap.NewNop()
	if opts.verbose {
		logCfg := cfg.Log
		logCfg.File = ""
		logCfg.Console = true
		l, err := logging.New(logCfg)
		if err != nil {
			return err
		}
		logger = l
	}
	defer logger.Sync()

	var recorder pipeline.Recorder
	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			logger.Warn("training history disabled", zap.Error(err))
		} else {
			defer database.Close()
			recorder = database
		}
	}

	samples := storage.NewSampleStore(cfg.Paths.Data)
	trainer := pipeline.NewTrainer(cfg.Training(), samples, recorder, logger)

	fmt.Fprintln(out, "GestureEcho Model Training")
	fmt.Fprintln(out, "==============================")
	result, err := trainer.Run(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		fmt.Fprintln(out, "Training failed!")
		return err
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	printResult(out, result, cfg)
	fmt.Fprintln(out, "Training completed successfully!")
	return nil
}

func printResult(out io.Writer, result *pipeline.Result, cfg config.Config) {
	fmt.Fprintf(out, "Loaded %d samples\n", result.Samples)
	fmt.Fprintln(out, "Gesture distribution:")
	labels := make([]string, 0, len(result.Distribution))
	for label := range result.Distribution {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(out, "  %-16s %d\n", label, result.Distribution[label])
	}
	if !result.Stratified {
		fmt.Fprintln(out, "Stratification was not possible, used a random split")
	}
	fmt.Fprintf(out, "Training set size: %d\n", result.TrainSize)
	fmt.Fprintf(out, "Test set size: %d\n", result.TestSize)
	fmt.Fprintf(out, "\nModel Accuracy: %.3f\n", result.Accuracy)

	fmt.Fprintln(out, "\nClassification Report:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "\tprecision\trecall\tf1-score\tsupport\t")
	for _, m := range result.Report {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\t%.2f\t%d\t\n", m.Label, m.Precision, m.Recall, m.F1, m.Support)
	}
	tw.Flush()

	if len(result.FeatureImportances) > 0 {
		fmt.Fprintln(out, "\nFeature Importance:")
		for _, name := range gesture.FeatureNames {
			fmt.Fprintf(out, "%s: %.3f\n", name, result.FeatureImportances[name])
		}
	}

	fmt.Fprintf(out, "\nModel file: %s\n", cfg.Paths.Model)
	fmt.Fprintf(out, "Encoder file: %s\n", cfg.Paths.Encoder)
}
