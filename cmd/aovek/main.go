package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/akamensky/argparse"
	"github.com/nvr-ai/aovek/config"
	"github.com/nvr-ai/aovek/dataset"
	"github.com/nvr-ai/aovek/evaluation"
	"github.com/nvr-ai/aovek/loss"
	"github.com/nvr-ai/aovek/onnx"
	"github.com/nvr-ai/aovek/predict"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrUnsupportedAction is returned for actions this tool does not implement.
var ErrUnsupportedAction = errors.New("action not supported")

type action int

const (
	actionNone action = iota
	actionEvaluate
	actionPredict
	actionLoss
)

// flags holds the parsed command line.
type flags struct {
	ConfigFile       string
	Evaluate         bool
	Predict          bool
	Loss             bool
	DatasetDownload  bool
	ProcessesDataset bool
	Train            bool
	Output           string
	Images           string
	LogFile          string
	Verbose          bool
}

// selectAction returns the requested action, rejecting the dataset and training actions.
func selectAction(f flags) (action, error) {
	switch {
	case f.DatasetDownload:
		return actionNone, errors.Wrap(ErrUnsupportedAction, "dataset_download")
	case f.ProcessesDataset:
		return actionNone, errors.Wrap(ErrUnsupportedAction, "processes_dataset")
	case f.Train:
		return actionNone, errors.Wrap(ErrUnsupportedAction, "train")
	case f.Predict:
		return actionPredict, nil
	case f.Evaluate:
		return actionEvaluate, nil
	case f.Loss:
		return actionLoss, nil
	}
	return actionNone, nil
}

// initLogger initializes Logrus to log to stdout and, optionally, a file.
func initLogger(path string, verbose bool) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if path == "" {
		return log
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		log.WithError(err).Warn("Failed to log to file, using stdout only")
		return log
	}
	// Write to both stdout and file.
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return log
}

func parseFlags(args []string) (flags, error) {
	parser := argparse.NewParser("aovek", "Person detection evaluation toolkit")

	configFile := parser.String("c", "config_file", &argparse.Options{Help: "Path to config file", Required: true})
	evaluate := parser.Flag("", "evaluate", &argparse.Options{Help: "Evaluate the trained model on every split"})
	pred := parser.Flag("", "predict", &argparse.Options{Help: "Render predictions for every split"})
	lossFlag := parser.Flag("", "loss", &argparse.Options{Help: "Report the training loss of every split"})
	download := parser.Flag("", "dataset_download", &argparse.Options{Help: "Download dataset (not supported)"})
	processes := parser.Flag("", "processes_dataset", &argparse.Options{Help: "Process dataset (not supported)"})
	train := parser.Flag("", "train", &argparse.Options{Help: "Train the network (not supported)"})
	output := parser.String("o", "output", &argparse.Options{Help: "Prediction output directory", Default: "predictions"})
	imagesDir := parser.String("i", "images", &argparse.Options{Help: "Render predictions for this image directory instead of the splits"})
	logFile := parser.String("", "log_file", &argparse.Options{Help: "Also write the log to this file"})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Enable debug logging"})

	if err := parser.Parse(args); err != nil {
		return flags{}, errors.New(parser.Usage(err))
	}

	return flags{
		ConfigFile:       *configFile,
		Evaluate:         *evaluate,
		Predict:          *pred,
		Loss:             *lossFlag,
		DatasetDownload:  *download,
		ProcessesDataset: *processes,
		Train:            *train,
		Output:           *output,
		Images:           *imagesDir,
		LogFile:          *logFile,
		Verbose:          *verbose,
	}, nil
}

func main() {
	f, err := parseFlags(os.Args)
	if err != nil {
		fmt.Print(err)
		os.Exit(1)
	}

	logger := initLogger(f.LogFile, f.Verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, f); err != nil {
		logger.Fatalf("aovek: %v", err)
	}
}

func run(ctx context.Context, logger *logrus.Logger, f flags) error {
	act, err := selectAction(f)
	if err != nil {
		return err
	}
	if act == actionNone {
		logger.Info("No action requested")
		return nil
	}

	cfg, err := config.Load(f.ConfigFile)
	if err != nil {
		return err
	}

	model, err := onnx.NewModel(onnx.OptionsFromConfig(cfg))
	if err != nil {
		return err
	}
	defer model.Close()
	logger.WithField("model", cfg.Network.ModelBinaryDataFile).Info("Model loaded")

	if act == actionPredict && f.Images != "" {
		runner := predict.NewRunner(cfg, model, logger, f.Output)
		_, err := runner.RunDirectory(ctx, f.Images)
		return err
	}

	splits, err := loadSplits(cfg, logger)
	if err != nil {
		return err
	}

	switch act {
	case actionEvaluate:
		e := evaluation.NewEvaluator(cfg, model, logger)
		e.Out = os.Stdout
		_, err := e.EvaluateAll(ctx, splits...)
		return err
	case actionPredict:
		runner := predict.NewRunner(cfg, model, logger, f.Output)
		for _, split := range splits {
			if _, err := runner.RunSplit(ctx, split); err != nil {
				return err
			}
		}
	case actionLoss:
		r := &loss.Reporter{
			Config:    loss.FromConfig(cfg),
			BatchSize: cfg.Network.Train.BatchSize,
			Model:     model,
			Logger:    logger,
		}
		for _, split := range splits {
			v, err := r.Report(ctx, split)
			if err != nil {
				return err
			}
			fmt.Printf("%s loss: %s\n", split.Name, v)
		}
	}
	return nil
}

func loadSplits(cfg *config.Config, logger *logrus.Logger) ([]*dataset.Split, error) {
	var splits []*dataset.Split
	for _, sp := range cfg.SplitPaths() {
		split, err := dataset.LoadSplit(sp.Name, sp.Path)
		if err != nil {
			return nil, err
		}
		if split.ImageSize() != cfg.ImageInfo.ImageSize {
			return nil, errors.Wrapf(config.ErrInvalidValue, "split %s has %dpx images, config says %dpx",
				sp.Name, split.ImageSize(), cfg.ImageInfo.ImageSize)
		}
		logger.WithFields(logrus.Fields{"split": sp.Name, "images": split.Len()}).Info("Split loaded")
		splits = append(splits, split)
	}
	return splits, nil
}
