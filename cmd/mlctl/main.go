package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"batchml/internal/api"
	"batchml/internal/cfg"
	"batchml/internal/client"
	"batchml/internal/dataset"
	"batchml/internal/estimator"
	"batchml/internal/ml"
	"batchml/internal/report"
	"batchml/internal/storage"
	"batchml/internal/trainer"

	"github.com/alexflint/go-arg"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type RunCmd struct {
	Input        string   `arg:"positional,required" help:"CSV or xlsx input file"`
	Models       []string `arg:"-m,--model,separate" help:"family to train, repeatable (default: all)"`
	Params       []string `arg:"-p,--param,separate" help:"family=JSON parameter overrides, repeatable"`
	BatchSize    int      `arg:"-b,--batch-size" help:"rows per batch (default from config)"`
	TestFraction float64  `arg:"--test-fraction" help:"share of feature rows held out for testing"`
	Seed         *int64   `arg:"--seed" help:"split seed"`
	Scaler       string   `arg:"--scaler" help:"input scaling: none, standard, minmax, robust"`
	Output       string   `arg:"-o,--output" default:"reports" help:"report directory"`
}

type UploadCmd struct {
	File      string `arg:"positional,required" help:"CSV or xlsx file"`
	BatchSize int    `arg:"-b,--batch-size" help:"rows per batch (default: service setting)"`
}

type TrainCmd struct {
	Dataset      string  `arg:"positional,required" help:"dataset id from upload"`
	Family       string  `arg:"positional,required" help:"model family"`
	Params       string  `arg:"-p,--params" help:"JSON parameter overrides"`
	SaveName     string  `arg:"-n,--name" help:"save name (default: family and timestamp)"`
	TestFraction float64 `arg:"--test-fraction" help:"share of feature rows held out for testing"`
	Seed         *int64  `arg:"--seed" help:"split seed"`
	Scaler       string  `arg:"--scaler" help:"input scaling: none, standard, minmax, robust"`
}

type ModelsCmd struct {
	Name    string `arg:"positional" help:"show one model in detail"`
	Compare string `arg:"-c,--compare" help:"compare the named model against this one"`
}

type SavedCmd struct {
	Load    string `arg:"--load" help:"load one saved model into the registry"`
	LoadAll bool   `arg:"--load-all" help:"load every saved model into the registry"`
}

type DeleteCmd struct {
	Name string `arg:"positional,required" help:"saved model to delete"`
}

type ClearCmd struct {
	Saved bool `arg:"--saved" help:"delete every saved model instead of clearing the registry"`
}

type InfoCmd struct{}

type ExportCmd struct {
	Name   string `arg:"positional" help:"model whose predictions to export (default: comparison of all models)"`
	Output string `arg:"-o,--output" help:"output file (default: stdout)"`
}

type args struct {
	Server   string `arg:"--server" help:"service address (default from MLDASH_URL)"`
	LogLevel string `arg:"--log-level" help:"log level: debug, info, warn, error"`

	Run    *RunCmd    `arg:"subcommand:run" help:"train and compare models offline on a local file"`
	Upload *UploadCmd `arg:"subcommand:upload" help:"upload a dataset to the service"`
	Train  *TrainCmd  `arg:"subcommand:train" help:"train a model on an uploaded dataset"`
	Models *ModelsCmd `arg:"subcommand:models" help:"list trained models"`
	Saved  *SavedCmd  `arg:"subcommand:saved" help:"list or load saved models"`
	Delete *DeleteCmd `arg:"subcommand:delete" help:"delete a saved model"`
	Clear  *ClearCmd  `arg:"subcommand:clear" help:"clear the registry or the model store"`
	Info   *InfoCmd   `arg:"subcommand:info" help:"show model store usage"`
	Export *ExportCmd `arg:"subcommand:export" help:"export predictions or the model comparison as CSV"`
}

func (args) Description() string {
	return "Batch regression workbench command line."
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if p.Subcommand() == nil {
		p.WriteHelp(os.Stdout)
		os.Exit(2)
	}

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if a.LogLevel != "" {
		c.LogLevel = a.LogLevel
	}
	zerolog.SetGlobalLevel(c.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	server := c.ServerURL
	if a.Server != "" {
		server = a.Server
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cl := client.New(server, c.RequestTimeout)
	out := os.Stdout

	switch {
	case a.Run != nil:
		err = runOffline(c, a.Run, out)
	case a.Upload != nil:
		err = upload(ctx, cl, a.Upload, out)
	case a.Train != nil:
		err = trainRemote(ctx, cl, a.Train, out)
	case a.Models != nil:
		err = models(ctx, cl, a.Models, out)
	case a.Saved != nil:
		err = saved(ctx, cl, a.Saved, out)
	case a.Delete != nil:
		err = deleteSaved(ctx, cl, a.Delete, out)
	case a.Clear != nil:
		err = clearModels(ctx, cl, a.Clear, out)
	case a.Info != nil:
		err = info(ctx, cl, out)
	case a.Export != nil:
		err = export(ctx, cl, a.Export, out)
	}

	if err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func formatMetric(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// parseParamFlags turns "family=JSON" flags into raw parameters per family.
func parseParamFlags(flags []string) (map[estimator.Family]json.RawMessage, error) {
	out := make(map[estimator.Family]json.RawMessage, len(flags))
	for _, flag := range flags {
		name, raw, ok := strings.Cut(flag, "=")
		if !ok {
			return nil, fmt.Errorf("parameter flag %q is not family=JSON", flag)
		}
		f, err := estimator.ParseFamily(name)
		if err != nil {
			return nil, err
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("parameters of %s are not valid JSON", f)
		}
		out[f] = json.RawMessage(raw)
	}
	return out, nil
}

// selectFamilies resolves family names, or returns all families when none
// are given. Duplicates are dropped.
func selectFamilies(names []string) ([]estimator.Family, error) {
	if len(names) == 0 {
		return estimator.Families(), nil
	}
	seen := make(map[estimator.Family]bool, len(names))
	var out []estimator.Family
	for _, name := range names {
		f, err := estimator.ParseFamily(name)
		if err != nil {
			return nil, err
		}
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out, nil
}

// buildJobs decodes the parameters of every family. The sequence family
// takes its window from the configuration unless overridden.
func buildJobs(families []estimator.Family, raw map[estimator.Family]json.RawMessage, window int) ([]trainer.Job, error) {
	jobs := make([]trainer.Job, 0, len(families))
	for _, f := range families {
		base, err := estimator.DefaultParams(f)
		if err != nil {
			return nil, err
		}
		if sp, ok := base.(*estimator.SequenceParams); ok && window > 0 {
			sp.WindowSize = window
		}
		p, err := estimator.DecodeParamsOver(base, raw[f])
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, trainer.Job{Params: p})
	}
	return jobs, nil
}

func runOffline(c cfg.Settings, r *RunCmd, out io.Writer) error {
	families, err := selectFamilies(r.Models)
	if err != nil {
		return err
	}
	raw, err := parseParamFlags(r.Params)
	if err != nil {
		return err
	}
	jobs, err := buildJobs(families, raw, c.WindowSize)
	if err != nil {
		return err
	}
	scaler, err := estimator.ParseScalerKind(r.Scaler)
	if err != nil {
		return err
	}

	table, err := dataset.Load(r.Input, dataset.Options{Target: c.TargetColumn, Exclude: c.ExcludeColumns})
	if err != nil {
		return err
	}

	batchSize := c.BatchSize
	if r.BatchSize > 0 {
		batchSize = r.BatchSize
	}
	fraction := c.TestFraction
	if r.TestFraction > 0 {
		fraction = r.TestFraction
	}
	seed := c.RandomSeed
	if r.Seed != nil {
		seed = *r.Seed
	}

	bars := newProgressBars(os.Stderr)
	registry := ml.NewRegistry()
	tr := trainer.New(storage.NewModelStore(c.ModelStorePath), registry)

	results := tr.RunAll(trainer.Pipeline{
		Table:        table,
		BatchSize:    batchSize,
		TestFraction: fraction,
		Seed:         seed,
		Scaler:       scaler,
		Progress:     bars.Update,
	}, jobs)
	bars.Finish()

	for i, res := range results {
		if !res.OK() {
			log.Error().
				Str("family", string(jobs[i].Params.Family())).
				Str("stage", res.Failure.Stage).
				Msg(res.Failure.Message)
		} else if !res.Success.Saved {
			log.Warn().Str("model", res.Success.Name).Msg(res.Success.SaveMessage)
		}
	}

	if registry.Len() == 0 {
		return fmt.Errorf("no model trained successfully")
	}

	rep := report.NewReporter(registry.Records(), r.Output)
	if err := rep.GenerateReport(); err != nil {
		return err
	}
	log.Info().Str("dir", r.Output).Int("models", registry.Len()).Msg("Report written")
	return report.WriteSummary(out, registry.Records())
}

func upload(ctx context.Context, cl *client.Client, u *UploadCmd, out io.Writer) error {
	info, err := cl.UploadDataset(ctx, u.File, u.BatchSize)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Dataset %s\n", info.ID)
	fmt.Fprintf(out, "  file:        %s\n", info.Name)
	fmt.Fprintf(out, "  raw rows:    %d (%d dropped after the last whole batch)\n", info.RawRows, info.DroppedRows)
	fmt.Fprintf(out, "  batches:     %d of %d rows\n", info.Batches, info.BatchSize)
	fmt.Fprintf(out, "  features:    %d from %s\n", info.Width, strings.Join(info.Columns, ", "))
	return nil
}

func trainRemote(ctx context.Context, cl *client.Client, t *TrainCmd, out io.Writer) error {
	req := api.TrainRequest{
		DatasetID:    t.Dataset,
		Family:       t.Family,
		TestFraction: t.TestFraction,
		Seed:         t.Seed,
		SaveName:     t.SaveName,
		Scaler:       t.Scaler,
		RunID:        uuid.NewString(),
	}
	if t.Params != "" {
		if !json.Valid([]byte(t.Params)) {
			return fmt.Errorf("--params is not valid JSON")
		}
		req.Params = json.RawMessage(t.Params)
	}

	bars := newProgressBars(os.Stderr)
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	streamDone := followRun(streamCtx, cl, req.RunID, bars)

	resp, err := cl.Train(ctx, req)
	if err != nil {
		return err
	}

	select {
	case <-streamDone:
	case <-time.After(2 * time.Second):
		stopStream()
		<-streamDone
	}
	bars.Finish()

	if !resp.OK() {
		return fmt.Errorf("%s (stage %s)", resp.Failure.Message, resp.Failure.Stage)
	}

	s := resp.Success
	fmt.Fprintf(out, "Trained %s (%s) in %s\n", s.Name, s.Family.DisplayName(), s.Duration.Round(time.Millisecond))
	writeMetrics(out, s.Metrics)
	if s.Saved {
		fmt.Fprintln(out, s.SaveMessage)
	} else {
		fmt.Fprintf(out, "Not saved: %s\n", s.SaveMessage)
	}
	return nil
}

// followRun feeds progress of runID into bars until the run ends. The
// returned channel closes when following stops.
func followRun(ctx context.Context, cl *client.Client, runID string, bars *progressBars) <-chan struct{} {
	done := make(chan struct{})

	stream, err := cl.Events(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("progress unavailable")
		close(done)
		return done
	}

	events := make(chan api.Event, 64)
	go func() {
		defer close(events)
		defer stream.Close()
		if err := stream.Stream(ctx, runID, events); err != nil && ctx.Err() == nil {
			log.Debug().Err(err).Msg("event stream ended")
		}
	}()
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Progress != nil {
				bars.Update(*ev.Progress)
			}
		}
	}()
	return done
}

func writeMetrics(out io.Writer, m ml.Metrics) {
	for _, name := range ml.MetricNames {
		v, _ := m.Value(name)
		fmt.Fprintf(out, "  %-5s %s\n", name, formatMetric(v))
	}
	for _, w := range m.Warnings {
		fmt.Fprintf(out, "  warning: %s\n", w.Error())
	}
}

func models(ctx context.Context, cl *client.Client, m *ModelsCmd, out io.Writer) error {
	if m.Compare != "" {
		if m.Name == "" {
			return fmt.Errorf("--compare needs a model name")
		}
		cmp, err := cl.Compare(ctx, m.Name, m.Compare)
		if err != nil {
			return err
		}
		writeComparison(out, cmp)
		return nil
	}

	if m.Name != "" {
		d, err := cl.Model(ctx, m.Name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%s), %d test rows\n", d.Name, d.Display, d.TestRows)
		writeMetrics(out, d.Metrics)
		fmt.Fprintf(out, "  params %s\n", string(d.Params))
		if len(d.TopFeatures) > 0 {
			fmt.Fprintln(out, "  top features:")
			for _, f := range d.TopFeatures {
				fmt.Fprintf(out, "    %-24s %s\n", f.Name, formatMetric(f.Score))
			}
		}
		return nil
	}

	list, err := cl.Models(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No trained models.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tFAMILY\tMAE\tRMSE\tMAPE (%)\tR2")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", s.Name, s.Display,
			formatMetric(s.Metrics.MAE), formatMetric(s.Metrics.RMSE),
			formatMetric(s.Metrics.MAPE), formatMetric(s.Metrics.R2))
	}
	return tw.Flush()
}

// writeComparison prints the differences of A against B with a direction
// for each metric.
func writeComparison(out io.Writer, c ml.Comparison) {
	fmt.Fprintf(out, "%s vs %s\n", c.A, c.B)
	line := func(name string, diff float64, higherIsBetter bool) {
		verdict := "equal"
		switch {
		case diff > 0 && higherIsBetter, diff < 0 && !higherIsBetter:
			verdict = "better"
		case diff != 0:
			verdict = "worse"
		}
		fmt.Fprintf(out, "  %-5s %+.2f%% (%s)\n", name, diff, verdict)
	}
	line(ml.MetricMAE, c.MAE, false)
	line(ml.MetricRMSE, c.RMSE, false)
	line(ml.MetricR2, c.R2, true)
}

func saved(ctx context.Context, cl *client.Client, s *SavedCmd, out io.Writer) error {
	switch {
	case s.LoadAll:
		res, err := cl.LoadAll(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Loaded %d of %d saved models\n", res.Loaded, res.Total)
		return nil
	case s.Load != "":
		m, err := cl.LoadSaved(ctx, s.Load)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Loaded %s (%s)\n", m.Name, m.Display)
		return nil
	}

	list, err := cl.Saved(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(out, "No saved models.")
		return nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].SavedAt > list[j].SavedAt })
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSAVED AT\tMAE\tR2")
	for _, m := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Name, m.SavedAt, formatMetric(m.Metrics.MAE), formatMetric(m.Metrics.R2))
	}
	return tw.Flush()
}

func deleteSaved(ctx context.Context, cl *client.Client, d *DeleteCmd, out io.Writer) error {
	res, err := cl.DeleteSaved(ctx, d.Name)
	if err != nil {
		return err
	}
	if !res.OK {
		return fmt.Errorf("%s", res.Message)
	}
	fmt.Fprintln(out, res.Message)
	return nil
}

func clearModels(ctx context.Context, cl *client.Client, c *ClearCmd, out io.Writer) error {
	if c.Saved {
		res, err := cl.ClearSaved(ctx)
		if err != nil {
			return err
		}
		if !res.OK {
			return fmt.Errorf("%s", res.Message)
		}
		fmt.Fprintln(out, res.Message)
		return nil
	}

	n, err := cl.ClearModels(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Cleared %d models from the registry\n", n)
	return nil
}

func info(ctx context.Context, cl *client.Client, out io.Writer) error {
	si, err := cl.StorageInfo(ctx)
	if err != nil {
		return err
	}
	if si.Error != "" {
		return fmt.Errorf("storage info: %s", si.Error)
	}
	fmt.Fprintf(out, "Location: %s\n", si.Location)
	fmt.Fprintf(out, "Models:   %d\n", si.ModelCount)
	fmt.Fprintf(out, "Size:     %.2f MB (%d bytes)\n", si.TotalSizeMB, si.TotalSizeBytes)
	return nil
}

func export(ctx context.Context, cl *client.Client, e *ExportCmd, out io.Writer) error {
	w := out
	if e.Output != "" {
		f, err := os.Create(e.Output)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if e.Name != "" {
		return cl.PredictionsCSV(ctx, e.Name, w)
	}
	return cl.ComparisonCSV(ctx, w)
}
