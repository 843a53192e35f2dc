package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"evopattern/internal/dataextract"
	"evopattern/internal/evo"
	"evopattern/internal/logx"
	"evopattern/internal/model"
	"evopattern/internal/monitor"
	"evopattern/internal/stats"
	"evopattern/pkg/evopattern"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "evopattern.db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:], out)
	case "reset":
		return runReset(ctx, args[1:], out)
	case "run":
		return runRun(ctx, args[1:], out)
	case "generate":
		return runGenerate(ctx, args[1:], out)
	case "runs":
		return runRuns(ctx, args[1:], out)
	case "show":
		return runShow(ctx, args[1:], out)
	case "fitness":
		return runFitness(ctx, args[1:], out)
	case "diagnostics":
		return runDiagnostics(ctx, args[1:], out)
	case "export":
		return runExport(ctx, args[1:], out)
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

// commonFlags are the store and logging flags shared by every command that
// opens a client.
type commonFlags struct {
	storeKind    *string
	dbPath       *string
	artifactsDir *string
	logLevel     *string
	logFormat    *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		storeKind:    fs.String("store", "sqlite", "store backend: memory|sqlite"),
		dbPath:       fs.String("db-path", defaultDBPath, "sqlite database path"),
		artifactsDir: fs.String("artifacts-dir", defaultArtifactsDir, "run artifacts directory"),
		logLevel:     fs.String("log-level", "info", "log level: debug|info|warn|error"),
		logFormat:    fs.String("log-format", "text", "log format: text|json"),
	}
}

func (c commonFlags) logger() (*slog.Logger, error) {
	return logx.New(os.Stderr, *c.logLevel, *c.logFormat)
}

func (c commonFlags) open(exportsDir string) (*evopattern.Client, *slog.Logger, error) {
	logger, err := c.logger()
	if err != nil {
		return nil, nil, err
	}
	client, err := evopattern.New(evopattern.Options{
		StoreKind:    *c.storeKind,
		DBPath:       *c.dbPath,
		ArtifactsDir: *c.artifactsDir,
		ExportsDir:   exportsDir,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func runInit(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "initialized store=%s\n", *common.storeKind)
	return nil
}

func runReset(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Fprintf(out, "reset store=%s\n", *common.storeKind)
	return nil
}

func runRun(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	common := addCommonFlags(fs)
	configPath := fs.String("config", "", "optional run config YAML path")
	format := fs.String("format", "text", "report format: text|json")
	watchAddr := fs.String("watch-addr", "", "serve live progress over websocket at this address (path /progress)")
	defaults := defaultRunFile()
	input := fs.String("input", "", "series CSV path (or first positional argument)")
	column := fs.String("column", "", "CSV value column (default: first numeric column)")
	normalize := fs.String("normalize", defaults.Normalize, "series normalization: none|minmax|zscore")
	remoteWrite := fs.String("remote-write", "", "snappy-compressed Prometheus remote-write payload to read the series from")
	metric := fs.String("metric", "", "metric name selected from -remote-write")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	mode := fs.String("mode", defaults.Mode, "detection mode: multi|single")
	windows := fs.String("windows", "50", "comma-separated window lengths")
	nWindows := fs.Int("n-windows", defaults.NWindows, "windows per individual")
	generations := fs.Int("gens", defaults.Generations, "generation count")
	population := fs.Int("pop", defaults.Population, "population size")
	workers := fs.Int("workers", defaults.Workers, "fitness evaluation workers")
	seed := fs.Int64("seed", defaults.Seed, "rng seed")
	threshold := fs.Float64("threshold", defaults.MatchThreshold, "correlation threshold used while scoring")
	shift := fs.Int("shift", defaults.ShiftTolerance, "positional shift tolerated when correlating a candidate while scoring")
	penalty := fs.Float64("penalty", defaults.WindowPenalty, "fitness penalty per recurring window")
	expandThreshold := fs.Float64("expand-threshold", defaults.ExpandThreshold, "correlation threshold used to expand the best windows")
	expandShift := fs.Int("expand-shift", defaults.ExpandShift, "positional shift tolerated when correlating a candidate during expansion")
	maxShift := fs.Int("max-shift", defaults.MaxShift, "maximum window shift per mutation")
	selection := fs.String("selection", defaults.Selection, "parent selection strategy: "+strings.Join(evo.ListSelectors(), "|"))
	crossover := fs.String("crossover", defaults.Crossover, "crossover operator: "+strings.Join(evo.ListCrossovers(), "|"))
	keepDuplicates := fs.Bool("keep-duplicates", false, "keep repeated ranges in the pattern set")
	flatWindow := fs.Int("flat-window", 0, "flat detector window length (0 uses the default)")
	flatMinStd := fs.Float64("flat-min-std", 0, "flat detector std threshold (0 uses the default)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *format != "text" && *format != "json" {
		return fmt.Errorf("unsupported format: %s", *format)
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	file, err := loadRunFile(*configPath)
	if err != nil {
		return err
	}
	if err := overrideFromFlags(&file, setFlags, map[string]any{
		"input":            *input,
		"column":           *column,
		"normalize":        *normalize,
		"remote-write":     *remoteWrite,
		"metric":           *metric,
		"run-id":           *runID,
		"mode":             *mode,
		"windows":          *windows,
		"n-windows":        *nWindows,
		"gens":             *generations,
		"pop":              *population,
		"workers":          *workers,
		"seed":             *seed,
		"threshold":        *threshold,
		"shift":            *shift,
		"penalty":          *penalty,
		"expand-threshold": *expandThreshold,
		"expand-shift":     *expandShift,
		"max-shift":        *maxShift,
		"selection":        *selection,
		"crossover":        *crossover,
		"keep-duplicates":  *keepDuplicates,
		"flat-window":      *flatWindow,
		"flat-min-std":     *flatMinStd,
	}); err != nil {
		return err
	}
	if fs.NArg() > 0 && !setFlags["input"] {
		file.Input = fs.Arg(0)
	}

	client, logger, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	series, err := loadSeries(file)
	if err != nil {
		return err
	}
	logger.Info("series loaded", "source", file.source(), "length", len(series), "normalize", file.Normalize)

	req := file.runRequest()
	req.Series = series
	if req.RunID == "" {
		req.RunID = evopattern.NewRunID(req, time.Now())
	}

	var hub *monitor.Hub
	if *watchAddr != "" {
		hub = monitor.NewHub(monitor.HubConfig{Logger: logger})
		shutdown, err := hub.ListenAndServe(*watchAddr)
		if err != nil {
			return err
		}
		defer func() {
			_ = shutdown()
		}()
		req.Observer = hub.Observer(req.RunID)
	}

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}
	if hub != nil {
		hub.Finish(summary.RunID, len(summary.Patterns))
	}

	if *format == "json" {
		return writeJSON(out, summary.Record)
	}
	writeReport(out, summary.Record)
	fmt.Fprintf(out, "artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
	return nil
}

func loadSeries(file RunFile) ([]float64, error) {
	switch {
	case file.RemoteWrite != "" && file.Input != "":
		return nil, errors.New("use either an input CSV or -remote-write, not both")
	case file.RemoteWrite != "":
		payload, err := os.ReadFile(file.RemoteWrite)
		if err != nil {
			return nil, err
		}
		values, err := dataextract.DecodeRemoteWrite(payload, file.Metric)
		if err != nil {
			return nil, err
		}
		return dataextract.NormalizeSeries(values, file.Normalize)
	case file.Input != "":
		f, err := os.Open(file.Input)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return dataextract.LoadCSVSeries(f, dataextract.SeriesOptions{
			ValueColumnName: file.Column,
			Normalize:       file.Normalize,
		})
	default:
		return nil, errors.New("run requires an input CSV or -remote-write")
	}
}

// writeReport prints the patterns of a run, one block per window length.
func writeReport(out io.Writer, run model.RunRecord) {
	fmt.Fprintf(out, "run_id=%s mode=%s series_length=%d patterns=%d\n", run.ID, run.Mode, run.SeriesLength, len(run.Patterns))
	for _, warning := range run.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
	for _, wr := range run.WindowRuns {
		fmt.Fprintf(out, "window_length=%d best_fitness=%s\n", wr.WindowLength, formatScore(wr.BestFitness))
		for _, w := range wr.Best.Windows {
			fmt.Fprintf(out, "Base pattern: index %d-%d\n", w.Start, w.End)
		}
		fmt.Fprintln(out, "Similar patterns found:")
		for i, m := range wr.Matches {
			fmt.Fprintf(out, "  %d. Index %d-%d (length %d)\n", i+1, m.Start, m.End, m.Len())
		}
		if len(wr.Best.Windows) > 0 {
			best := wr.Best.Windows[0]
			fmt.Fprintf(out, "Best window: start=%d, end=%d\n", best.Start, best.End)
		}
	}
	if len(run.FlatRegions) > 0 {
		fmt.Fprintln(out, "Flat regions:")
		for i, f := range run.FlatRegions {
			fmt.Fprintf(out, "  %d. Index %d-%d (length %d)\n", i+1, f.Start, f.End, f.Len())
		}
	}
}

func formatScore(s model.Score) string {
	return fmt.Sprintf("%.6f", s.Float64())
}

func runGenerate(_ context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	kind := fs.String("kind", "motif", "series kind: motif|flat")
	length := fs.Int("n", 300, "series length")
	seed := fs.Int64("seed", 1, "rng seed")
	motifLen := fs.Int("motif-len", 50, "motif length for kind=motif")
	offsets := fs.String("offsets", "20,150", "comma-separated motif offsets for kind=motif")
	flatStart := fs.Int("flat-start", 110, "flat run start for kind=flat")
	flatLen := fs.Int("flat-len", 100, "flat run length for kind=flat")
	level := fs.Float64("level", 0.5, "flat run level for kind=flat")
	format := fs.String("format", "csv", "output format: csv|remote-write")
	metric := fs.String("metric", "series", "metric name for format=remote-write")
	outPath := fs.String("out", "", "output path (stdout when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(*seed))
	var (
		series []float64
		err    error
	)
	switch *kind {
	case "motif":
		var offs []int
		offs, err = parseIntList(*offsets)
		if err != nil {
			return fmt.Errorf("offsets: %w", err)
		}
		series, err = dataextract.GenerateRepeatedMotif(rng, *length, *motifLen, offs)
	case "flat":
		series, err = dataextract.GenerateFlatRun(rng, *length, *flatStart, *flatLen, *level)
	default:
		return fmt.Errorf("unsupported series kind: %s", *kind)
	}
	if err != nil {
		return err
	}

	w := out
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	switch *format {
	case "csv":
		if err := dataextract.WriteSeriesCSV(w, series); err != nil {
			return err
		}
	case "remote-write":
		payload, err := dataextract.EncodeRemoteWrite(*metric, series, time.Now().UnixMilli(), 1000)
		if err != nil {
			return err
		}
		if _, err := w.Write(payload); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s", *format)
	}
	if *outPath != "" {
		fmt.Fprintf(out, "generated kind=%s n=%d to=%s\n", *kind, len(series), filepath.Clean(*outPath))
	}
	return nil
}

func runRuns(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := addCommonFlags(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, evopattern.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Fprintln(out, "no runs found")
		return nil
	}
	if *jsonOut {
		type runsItem struct {
			RunID         string      `json:"run_id"`
			CreatedAtUTC  string      `json:"created_at_utc"`
			Mode          string      `json:"mode"`
			Source        string      `json:"source,omitempty"`
			SeriesLength  int         `json:"series_length"`
			WindowLengths []int       `json:"window_lengths"`
			Seed          int64       `json:"seed"`
			Population    int         `json:"population_size"`
			Generations   int         `json:"generations"`
			PatternCount  int         `json:"pattern_count"`
			BestFitness   model.Score `json:"best_fitness"`
		}
		payload := make([]runsItem, 0, len(items))
		for _, item := range items {
			payload = append(payload, runsItem{
				RunID:         item.RunID,
				CreatedAtUTC:  item.CreatedAtUTC,
				Mode:          item.Mode,
				Source:        item.Source,
				SeriesLength:  item.SeriesLength,
				WindowLengths: item.WindowLengths,
				Seed:          item.Seed,
				Population:    item.Population,
				Generations:   item.Generations,
				PatternCount:  item.PatternCount,
				BestFitness:   model.Score(item.BestFitness),
			})
		}
		return writeJSON(out, payload)
	}

	for _, item := range items {
		fmt.Fprintf(out, "run_id=%s created_at=%s mode=%s windows=%v seed=%d pop=%d gens=%d patterns=%d best_fitness=%s\n",
			item.RunID,
			item.CreatedAtUTC,
			item.Mode,
			item.WindowLengths,
			item.Seed,
			item.Population,
			item.Generations,
			item.PatternCount,
			formatScore(model.Score(item.BestFitness)),
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run from run index")
	format := fs.String("format", "text", "report format: text|json")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	record, err := client.Show(ctx, evopattern.ShowRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	switch *format {
	case "json":
		return writeJSON(out, record)
	case "text":
		writeReport(out, record)
		return nil
	default:
		return fmt.Errorf("unsupported format: %s", *format)
	}
}

func runFitness(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("fitness", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show fitness history for the most recent run from run index")
	window := fs.Int("window", 0, "window length of a multi-size run (0 selects the first)")
	limit := fs.Int("limit", 0, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit fitness history as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	history, err := client.FitnessHistory(ctx, evopattern.FitnessHistoryRequest{
		RunID:        *runID,
		Latest:       *latest,
		WindowLength: *window,
		Limit:        *limit,
	})
	if err != nil {
		return err
	}
	if len(history) == 0 {
		fmt.Fprintln(out, "no fitness history")
		return nil
	}
	if *jsonOut {
		return writeJSON(out, model.Scores(history))
	}

	for i, best := range history {
		fmt.Fprintf(out, "generation=%d best_fitness=%s\n", i, formatScore(model.Score(best)))
	}
	return nil
}

func runDiagnostics(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("diagnostics", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show diagnostics for the most recent run from run index")
	limit := fs.Int("limit", 0, "max generations to print (0 for all)")
	jsonOut := fs.Bool("json", false, "emit diagnostics as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(defaultExportsDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	diagnostics, err := client.Diagnostics(ctx, evopattern.DiagnosticsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(out, diagnostics)
	}
	for _, d := range diagnostics {
		fmt.Fprintf(out, "window_length=%d generation=%d best=%s mean=%s min=%s valid=%d best_ever=%s\n",
			d.WindowLength,
			d.Generation,
			formatScore(d.BestFitness),
			formatScore(d.MeanFitness),
			formatScore(d.MinFitness),
			d.ValidCount,
			formatScore(d.BestEverFitness),
		)
	}
	return nil
}

func runExport(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := addCommonFlags(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", defaultExportsDir, "export output directory")
	bucket := fs.String("s3-bucket", "", "upload the exported run to this S3 bucket")
	region := fs.String("s3-region", "", "S3 region (default us-east-1)")
	endpoint := fs.String("s3-endpoint", "", "custom S3 endpoint for compatible services")
	prefix := fs.String("s3-prefix", "", "object key prefix")
	pathStyle := fs.Bool("s3-path-style", false, "use path-style S3 addressing")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, _, err := common.open(*outDir)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := evopattern.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir}
	if *bucket != "" {
		req.S3 = &stats.S3ExportConfig{
			Bucket:          *bucket,
			Region:          *region,
			Endpoint:        *endpoint,
			Prefix:          *prefix,
			UsePathStyle:    *pathStyle,
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		}
	}
	summary, err := client.Export(ctx, req)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "exported run_id=%s to=%s\n", summary.RunID, summary.Directory)
	for _, key := range summary.UploadKeys {
		fmt.Fprintf(out, "uploaded s3://%s/%s\n", *bucket, key)
	}
	return nil
}

func writeJSON(out io.Writer, value any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: evopatternctl <init|reset|run|generate|runs|show|fitness|diagnostics|export> [flags]", msg)
}
