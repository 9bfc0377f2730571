package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iamhimansu/csvscan/pkg/csvscan/config"
	"github.com/iamhimansu/csvscan/pkg/csvscan/query"
	"github.com/iamhimansu/csvscan/pkg/csvscan/sink"
	"github.com/iamhimansu/csvscan/pkg/csvscan/storage"
	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
	"github.com/iamhimansu/csvscan/pkg/csvscan/utils"
)

func main() {
	requestJSON := flag.String("request", "", "JSON request payload")
	configPath := flag.String("config", "", "YAML job file")
	cpuProfile := flag.String("cpuprofile", "", "Write cpu profile to file")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	verbose := flag.Bool("verbose", false, "Log debug output")
	flag.Parse()

	logger := utils.NewLogger(os.Stderr, *verbose)

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fatalError(err.Error())
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			fatalError(err.Error())
		}
		defer pprof.StopCPUProfile()
	}

	job, err := readJob(*requestJSON, *configPath)
	if err != nil {
		fatalError(err.Error())
	}
	if *metricsAddr != "" {
		job.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if job.MetricsAddr != "" {
		serveMetrics(job.MetricsAddr, reg, logger)
	}

	if err := run(ctx, job, reg, logger, os.Stdout); err != nil {
		logger.Error("%s failed: %v", job.Action, err)
		pprof.StopCPUProfile()
		fatalError(err.Error())
	}
}

func readJob(requestJSON, configPath string) (*config.Job, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	if requestJSON != "" {
		return config.FromJSON([]byte(requestJSON))
	}

	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		flag.Usage()
		os.Exit(1)
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return config.FromJSON(data)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger utils.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		logger.Info("serving metrics on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server: %v", err)
		}
	}()
}

func newOpener(ctx context.Context, job *config.Job) (storage.Opener, error) {
	router := storage.NewRouter()
	if job.S3.Region != "" {
		s3o, err := storage.NewS3Opener(ctx, job.S3)
		if err != nil {
			return nil, err
		}
		router.Register(storage.SchemeS3, s3o)
	}
	return router, nil
}

func run(ctx context.Context, job *config.Job, reg prometheus.Registerer, logger utils.Logger, stdout io.Writer) error {
	if job.Action == config.ActionCat {
		return handleCat(job, stdout)
	}

	cfg, err := job.ScanConfig()
	if err != nil {
		return err
	}
	where, err := job.Condition()
	if err != nil {
		return err
	}

	opener, err := newOpener(ctx, job)
	if err != nil {
		return err
	}
	if err := resolveColumns(ctx, opener, &cfg); err != nil {
		return err
	}
	executor := query.NewExecutor(opener, logger, query.NewMetrics(reg))
	enc := json.NewEncoder(stdout)

	switch job.Action {
	case config.ActionPlan:
		splits, err := executor.Plan(ctx, cfg)
		if err != nil {
			return err
		}
		return enc.Encode(types.ScanResult{Status: "ok", Splits: splits})

	case config.ActionCount:
		if cfg.GroupBy != "" {
			groups, stats, err := executor.Aggregate(ctx, cfg, where)
			if err != nil {
				return err
			}
			return enc.Encode(types.ScanResult{Status: "ok", Groups: groups, Stats: &stats})
		}
		n, stats, err := executor.Count(ctx, cfg, where)
		if err != nil {
			return err
		}
		return enc.Encode(types.ScanResult{Status: "ok", Count: n, Stats: &stats})

	case config.ActionVerify:
		res, err := executor.Verify(ctx, cfg)
		if err != nil {
			return err
		}
		if err := enc.Encode(res); err != nil {
			return err
		}
		if !res.Match {
			return fmt.Errorf("split scan of %s does not match single scan", cfg.Location)
		}
		return nil
	}

	out, err := openSink(job, cfg, stdout)
	if err != nil {
		return err
	}
	stats, err := executor.Run(ctx, cfg, where, out.Write)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	logger.Info("wrote %d records", stats.Records)
	if job.Output.Path != "" {
		return enc.Encode(types.ScanResult{Status: "ok", Count: stats.Records, Stats: &stats})
	}
	return nil
}

// resolveColumns names the columns from the schema sidecar of a local file,
// or else from the header line when the scan skips one.
func resolveColumns(ctx context.Context, opener storage.Opener, cfg *types.ScanConfig) error {
	if len(cfg.Columns) > 0 {
		return nil
	}
	if storage.Scheme(cfg.Location) != storage.SchemeS3 {
		schema, err := query.LoadSchema(cfg.Location.Path)
		if err != nil {
			return err
		}
		cfg.Columns = schema.Columns
	}
	if len(cfg.Columns) > 0 || !cfg.SkipHeader {
		return nil
	}
	headers, err := storage.ReadHeader(ctx, opener, cfg.Location, cfg.Separator)
	if err != nil {
		return err
	}
	for _, h := range headers {
		cfg.Columns = append(cfg.Columns, types.Column{Name: h, Type: types.TypeAny})
	}
	return nil
}

type fileSink struct {
	sink.Sink
	file *os.File
}

func (f fileSink) Close() error {
	err := f.Sink.Close()
	if cerr := f.file.Close(); err == nil {
		err = cerr
	}
	return err
}

func openSink(job *config.Job, cfg types.ScanConfig, stdout io.Writer) (sink.Sink, error) {
	switch job.Output.Format {
	case config.FormatCSV:
		if job.Output.Path == "" {
			return nil, errors.New("csv output needs a path")
		}
		var headers []string
		if len(cfg.Columns) > 0 {
			headers = query.OutputNames(cfg.Columns, cfg.Projection, len(cfg.Columns))
		}
		return sink.NewCSVSink(job.Output.Path, cfg.Separator, headers)

	case config.FormatBlock:
		codec, err := sink.ParseCodec(job.Output.Codec)
		if err != nil {
			return nil, err
		}
		f, err := os.Create(job.Output.Path)
		if err != nil {
			return nil, err
		}
		bw, err := sink.NewBlockWriter(f, codec)
		if err != nil {
			f.Close()
			return nil, err
		}
		return fileSink{Sink: bw, file: f}, nil
	}

	if job.Output.Path == "" {
		return sink.NewJSONLinesSink(stdout), nil
	}
	f, err := os.Create(job.Output.Path)
	if err != nil {
		return nil, err
	}
	return fileSink{Sink: sink.NewJSONLinesSink(f), file: f}, nil
}

func handleCat(job *config.Job, stdout io.Writer) error {
	f, err := os.Open(job.Input)
	if err != nil {
		return err
	}
	defer f.Close()

	br, err := sink.NewBlockReader(f)
	if err != nil {
		return err
	}
	defer br.Close()

	out := sink.NewJSONLinesSink(stdout)
	n := 0
	err = br.Each(func(meta sink.BlockMeta, rec types.Record) error {
		if job.Limit > 0 && n >= job.Limit {
			return errStop
		}
		n++
		return out.Write(meta.Split, meta.FirstOffset, rec)
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

var errStop = errors.New("stop")

func fatalError(msg string) {
	resp := map[string]string{"status": "error", "error": msg}
	json.NewEncoder(os.Stdout).Encode(resp)
	os.Exit(1)
}
