// Command aushadhi identifies medicinal plants from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/Brownie44l1/aushadhi-api/internal/app"
	"github.com/Brownie44l1/aushadhi-api/internal/config"
	"github.com/Brownie44l1/aushadhi-api/internal/dataset"
	"github.com/Brownie44l1/aushadhi-api/internal/logging"
	"github.com/Brownie44l1/aushadhi-api/internal/pipeline"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "aushadhi",
		Usage:     "identify medicinal plants from leaf images",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "config.yaml", Usage: "path to config file"},
			&cli.StringFlag{Name: "dataset", Usage: "dataset root with one directory per class"},
			&cli.BoolFlag{Name: "debug", Usage: "log at debug level"},
		},
		Commands: []*cli.Command{
			{
				Name:      "predict",
				Usage:     "resolve one image path or URL",
				ArgsUsage: "<image>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "print the result as JSON"},
				},
				Action: predictAction,
			},
			{
				Name:  "labels",
				Usage: "print the label catalog, or write it with --out",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "out", Usage: "labels file to write"},
				},
				Action: labelsAction,
			},
			{
				Name:  "evaluate",
				Usage: "score the model against the labeled dataset",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "workers", Value: 4, Usage: "images decoded in parallel"},
					&cli.BoolFlag{Name: "json", Usage: "print the report as JSON"},
				},
				Action: evaluateAction,
			},
		},
	}
}

func loadConfig(c *cli.Context) (*config.AppConfig, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if dir := c.String("dataset"); dir != "" {
		cfg.Dataset.Dir = dir
	}
	if c.Bool("debug") {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.AppConfig) (*zap.SugaredLogger, error) {
	return logging.NewLogger("aushadhi", cfg.Log.Level, cfg.Log.Development)
}

func withPipeline(c *cli.Context, fn func(*config.AppConfig, *pipeline.Pipeline) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.Build(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cfg, a.Pipeline)
}

func predictAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("predict takes exactly one image path or URL")
	}
	source := c.Args().First()
	return withPipeline(c, func(_ *config.AppConfig, p *pipeline.Pipeline) error {
		res, err := p.Predict(c.Context, source)
		if err != nil {
			return err
		}
		return printResult(c.App.Writer, res, c.Bool("json"))
	})
}

func printResult(w io.Writer, res *pipeline.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, "Predicted plant is:", res.Label)
	fmt.Fprintf(w, "%s: %s\n", res.Name, res.Description)
	for _, s := range res.Top {
		fmt.Fprintf(w, "  %-24s %.4f\n", s.Label, s.Confidence)
	}
	return nil
}

func labelsAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cat, err := app.LoadCatalog(cfg.Dataset, nil)
	if err != nil {
		return err
	}
	if out := c.String("out"); out != "" {
		if err := cat.WriteFile(out); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "wrote %d labels to %s\n", cat.Len(), out)
		return nil
	}
	for i, l := range cat.Labels() {
		fmt.Fprintf(c.App.Writer, "%3d  %s\n", i, l)
	}
	return nil
}

func evaluateAction(c *cli.Context) error {
	return withPipeline(c, func(cfg *config.AppConfig, p *pipeline.Pipeline) error {
		if cfg.Dataset.Dir == "" {
			return errors.New("evaluate needs a dataset directory (--dataset or dataset.dir)")
		}
		samples, err := dataset.Samples(cfg.Dataset.Dir, p.Catalog())
		if err != nil {
			return err
		}
		report, err := dataset.Evaluate(c.Context, p, samples, c.Int("workers"))
		if err != nil {
			return err
		}
		return printReport(c.App.Writer, report, c.Bool("json"))
	})
}

func printReport(w io.Writer, r *dataset.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}
	fmt.Fprintf(w, "images: %d  correct: %d  failed: %d  accuracy: %.4f\n",
		r.Total, r.Correct, r.Failed, r.Accuracy)

	labels := make([]string, 0, len(r.PerClass))
	for l := range r.PerClass {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	for _, l := range labels {
		c := r.PerClass[l]
		fmt.Fprintf(w, "  %-24s %d/%d", l, c.Correct, c.Total)
		if c.Failed > 0 {
			fmt.Fprintf(w, " (%d unreadable)", c.Failed)
		}
		fmt.Fprintln(w)
	}
	return nil
}
