package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/iamhimansu/csvscan/pkg/csvscan/parser"
	"github.com/iamhimansu/csvscan/pkg/csvscan/plan"
	"github.com/iamhimansu/csvscan/pkg/csvscan/scan"
	"github.com/iamhimansu/csvscan/pkg/csvscan/storage"
	"github.com/iamhimansu/csvscan/pkg/csvscan/types"
	"github.com/iamhimansu/csvscan/pkg/csvscan/utils"
)

var errLimitReached = errors.New("limit reached")

// RecordHandler receives every record that passes the filter, together with
// the index of its split and its absolute file offset. Calls are serialized.
type RecordHandler func(split int, offset int64, rec types.Record) error

// Executor runs one RangeScanProducer per split, in parallel.
type Executor struct {
	opener  storage.Opener
	logger  utils.Logger
	metrics *Metrics
}

// NewExecutor builds an executor. logger and metrics may be nil.
func NewExecutor(opener storage.Opener, logger utils.Logger, metrics *Metrics) *Executor {
	if logger == nil {
		logger = utils.NopLogger{}
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	return &Executor{
		opener:  opener,
		logger:  logger,
		metrics: metrics,
	}
}

// Plan sizes the input and cuts it into splits: NumSplits when set, else
// SplitSize, else types.DefaultSplitSize.
func (e *Executor) Plan(ctx context.Context, cfg types.ScanConfig) ([]types.Split, error) {
	size, err := e.opener.Size(ctx, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("size %s: %w", cfg.Location, err)
	}

	var splits []types.Split
	switch {
	case cfg.NumSplits > 0:
		splits, err = plan.PlanN(cfg.Location, size, cfg.NumSplits)
	case cfg.SplitSize > 0:
		splits, err = plan.Plan(cfg.Location, size, cfg.SplitSize)
	default:
		splits, err = plan.Plan(cfg.Location, size, types.DefaultSplitSize)
	}
	if err != nil {
		return nil, err
	}
	plan.AssignHosts(splits, cfg.Hosts, 1)
	return splits, nil
}

// Run scans every split of cfg.Location and calls handler for each record
// that satisfies where. The first failure cancels the remaining splits and is
// returned. A positive cfg.Limit stops the scan after that many records.
func (e *Executor) Run(ctx context.Context, cfg types.ScanConfig, where *types.Condition, handler RecordHandler) (types.ScanStats, error) {
	start := time.Now()
	if cfg.Separator == 0 {
		cfg.Separator = types.DefaultSeparator
	}
	if where != nil {
		ResolveTargets(where)
	}

	splits, err := e.Plan(ctx, cfg)
	if err != nil {
		return types.ScanStats{}, err
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	e.logger.Info("scanning %s: %d splits, %d workers", cfg.Location, len(splits), workers)

	var (
		mu        sync.Mutex
		emitted   int64
		bytesRead int64
	)
	limit := int64(cfg.Limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range splits {
		g.Go(func() error {
			n, err := e.scanSplit(gctx, s, cfg, where, func(offset int64, rec types.Record) error {
				mu.Lock()
				defer mu.Unlock()
				if limit > 0 && emitted >= limit {
					return errLimitReached
				}
				if err := handler(i, offset, rec); err != nil {
					return err
				}
				emitted++
				if limit > 0 && emitted >= limit {
					return errLimitReached
				}
				return nil
			})
			atomic.AddInt64(&bytesRead, n)
			return err
		})
	}

	err = g.Wait()
	if errors.Is(err, errLimitReached) {
		err = nil
	}

	stats := types.ScanStats{
		Splits:        len(splits),
		Records:       emitted,
		BytesRead:     atomic.LoadInt64(&bytesRead),
		ExecutionTime: time.Since(start).String(),
	}
	if err != nil {
		e.logger.Error("scan of %s failed: %v", cfg.Location, err)
		return stats, err
	}
	e.logger.Info("scanned %s: %d records, %d bytes in %s", cfg.Location, stats.Records, stats.BytesRead, stats.ExecutionTime)
	return stats, nil
}

func (e *Executor) scanSplit(ctx context.Context, s types.Split, cfg types.ScanConfig, where *types.Condition, emit func(int64, types.Record) error) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	log := e.logger.With("task", uuid.NewString(), "split", s.String())
	opts := []scan.ProducerOption{
		scan.WithLogger(log),
		scan.WithReaderOptions(parser.WithTrimCR(cfg.TrimCR)),
	}
	if cfg.SkipHeader {
		opts = append(opts, scan.WithHeader())
	}
	p := scan.NewRangeScanProducer(e.opener, s, cfg.Separator, cfg.Projection, cfg.Schema(), opts...)

	if err := p.Initialize(ctx); err != nil {
		_ = p.Dispose()
		e.metrics.SplitsCompleted.WithLabelValues("error").Inc()
		log.Error("initialize failed: %v", err)
		return 0, err
	}

	err := e.drain(ctx, p, cfg, where, emit)
	n := p.BytesRead()
	if derr := p.Dispose(); err == nil {
		err = derr
	}
	e.metrics.BytesRead.Add(float64(n))

	switch {
	case err == nil:
		e.metrics.SplitsCompleted.WithLabelValues("ok").Inc()
		log.Debug("split done, %d bytes", n)
	case errors.Is(err, errLimitReached), errors.Is(err, context.Canceled):
		e.metrics.SplitsCompleted.WithLabelValues("canceled").Inc()
	default:
		e.metrics.SplitsCompleted.WithLabelValues("error").Inc()
		log.Error("split failed: %v", err)
	}
	return n, err
}

func (e *Executor) drain(ctx context.Context, p *scan.RangeScanProducer, cfg types.ScanConfig, where *types.Condition, emit func(int64, types.Record) error) error {
	var names []string
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var castErr *types.CastError
			if errors.As(err, &castErr) {
				e.metrics.CastErrors.Inc()
			}
			return err
		}
		e.metrics.RecordsScanned.Inc()

		if where != nil {
			if len(names) < len(rec) {
				names = OutputNames(cfg.Columns, cfg.Projection, len(rec))
			}
			if !Evaluate(where, rowOf(names, rec)) {
				continue
			}
		}
		if err := emit(p.Offset(), rec); err != nil {
			return err
		}
	}
}

func rowOf(names []string, rec types.Record) map[string]string {
	row := make(map[string]string, len(rec))
	for i, v := range rec {
		if i < len(names) {
			row[names[i]] = types.FormatValue(v)
		}
	}
	return row
}

// Count returns how many records satisfy where.
func (e *Executor) Count(ctx context.Context, cfg types.ScanConfig, where *types.Condition) (int64, types.ScanStats, error) {
	stats, err := e.Run(ctx, cfg, where, func(int, int64, types.Record) error { return nil })
	return stats.Records, stats, err
}

// Aggregate groups matching records by cfg.GroupBy and folds cfg.AggCol with
// cfg.AggFunc (count, sum, min, max, avg).
func (e *Executor) Aggregate(ctx context.Context, cfg types.ScanConfig, where *types.Condition) (map[string]float64, types.ScanStats, error) {
	aggregator, err := NewStreamAggregator(cfg.AggFunc)
	if err != nil {
		return nil, types.ScanStats{}, err
	}
	groupKey := strings.ToLower(cfg.GroupBy)
	aggCol := strings.ToLower(cfg.AggCol)
	needsValue := aggregator.aggFunc != "count" && aggregator.aggFunc != ""
	if needsValue && aggCol == "" {
		return nil, types.ScanStats{}, fmt.Errorf("aggregate %s needs a column", cfg.AggFunc)
	}

	var (
		names    []string
		groupIdx = -1
		aggIdx   = -1
	)
	stats, err := e.Run(ctx, cfg, where, func(_ int, offset int64, rec types.Record) error {
		if len(names) < len(rec) {
			names = OutputNames(cfg.Columns, cfg.Projection, len(rec))
			groupIdx, aggIdx = indexOf(names, groupKey), indexOf(names, aggCol)
		}
		if groupIdx < 0 || groupIdx >= len(rec) {
			return fmt.Errorf("group by column not found: %s", groupKey)
		}

		var val float64
		if needsValue {
			if aggIdx < 0 || aggIdx >= len(rec) {
				return fmt.Errorf("aggregate column not found: %s", aggCol)
			}
			v, err := toFloat(rec[aggIdx])
			if err != nil {
				return fmt.Errorf("record at offset %d: %w", offset, err)
			}
			val = v
		}
		aggregator.Add(types.FormatValue(rec[groupIdx]), val)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return aggregator.Results(), stats, nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
