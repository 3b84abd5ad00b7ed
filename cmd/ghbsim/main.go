// Command ghbsim drives the correlation prefetcher end to end: gen
// synthesizes an access trace from the adapted branch-predictor and
// out-of-order testbed, run replays a trace through the dispatcher and
// reports (or serves) its counters.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/supraxlabs/ghbprefetch/internal/metrics"
	"github.com/supraxlabs/ghbprefetch/internal/simconfig"
	"github.com/supraxlabs/ghbprefetch/internal/synth/ooo"
	"github.com/supraxlabs/ghbprefetch/internal/synth/tage"
	"github.com/supraxlabs/ghbprefetch/internal/synth/testbed"
	"github.com/supraxlabs/ghbprefetch/internal/trace"
	"github.com/supraxlabs/ghbprefetch/prefetch"
)

var log = logrus.WithField("prefix", "ghbsim")

var (
	configFlag = &cli.StringFlag{Name: "config", Usage: "path to a YAML config file overriding the dispatcher defaults"}

	historySizeFlag   = &cli.IntFlag{Name: "history-size", Usage: "override history_size"}
	patternLengthFlag = &cli.IntFlag{Name: "pattern-length", Usage: "override pattern_length"}
	degreeFlag        = &cli.IntFlag{Name: "degree", Usage: "override degree"}
	confidenceFlag    = &cli.IntFlag{Name: "confidence-threshold", Usage: "override confidence_threshold"}

	traceFlag       = &cli.StringFlag{Name: "trace", Required: true, Usage: "path to the access trace file"}
	metricsAddrFlag = &cli.StringFlag{Name: "metrics-addr", Usage: "if set, serve Prometheus metrics on this address after replay (e.g. :9400)"}

	outFlag     = &cli.StringFlag{Name: "out", Required: true, Usage: "path to write the generated trace file"}
	kindFlag    = &cli.StringFlag{Name: "kind", Value: "stride", Usage: "trace shape: stride, matrix, or branchy"}
	countFlag   = &cli.IntFlag{Name: "count", Value: 64, Usage: "iteration count (loop trip count for stride, row count for matrix, loop repetitions for branchy)"}
	reorderFlag = &cli.BoolFlag{Name: "reorder", Usage: "pass the generated trace through the out-of-order reordering testbed"}
)

func main() {
	app := &cli.App{
		Name:  "ghbsim",
		Usage: "replay and synthesize access traces for the GHB correlation prefetcher",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "replay a trace file through the dispatcher and report its counters",
				Flags:  []cli.Flag{configFlag, historySizeFlag, patternLengthFlag, degreeFlag, confidenceFlag, traceFlag, metricsAddrFlag},
				Action: runAction,
			},
			{
				Name:   "gen",
				Usage:  "synthesize an access trace using the branch-predictor and out-of-order testbed",
				Flags:  []cli.Flag{outFlag, kindFlag, countFlag, reorderFlag},
				Action: genAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("ghbsim failed")
	}
}

func loadConfig(c *cli.Context) (simconfig.SimConfig, error) {
	cfg := simconfig.Default()
	if path := c.String(configFlag.Name); path != "" {
		fileCfg, err := simconfig.LoadFile(path)
		if err != nil {
			return simconfig.SimConfig{}, errors.Wrap(err, "loading config")
		}
		cfg = fileCfg
	}

	overrides := simconfig.SimConfig{
		HistorySize:         c.Int(historySizeFlag.Name),
		PatternLength:       c.Int(patternLengthFlag.Name),
		Degree:              c.Int(degreeFlag.Name),
		ConfidenceThreshold: c.Int(confidenceFlag.Name),
	}
	return cfg.ApplyOverrides(overrides), nil
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	f, err := os.Open(c.String(traceFlag.Name))
	if err != nil {
		return errors.Wrap(err, "opening trace file")
	}
	defer f.Close()

	records, err := trace.Read(f)
	if err != nil {
		return errors.Wrap(err, "reading trace file")
	}
	log.WithField("records", len(records)).Info("replaying trace")

	dispatcher := prefetch.NewDispatcher(cfg.ToGHBConfig())
	fw := blockFramework{blockBytes: 64, pageBytes: cfg.ToGHBConfig().PageBytes}

	var totalPredictions int
	for _, event := range trace.ToAccessEvents(records) {
		predictions := dispatcher.CalculatePrefetch(event, fw, nil)
		totalPredictions += len(predictions)
	}

	stats := dispatcher.Stats()
	log.WithFields(logrus.Fields{
		"accesses":          stats.Accesses,
		"early_stride_hits": stats.EarlyStrideHits,
		"pattern_hits":      stats.PatternHits,
		"fallback_hits":     stats.FallbackHits,
		"predictions":       stats.PredictionsOut,
		"page_rejections":   stats.PageRejections,
	}).Info("replay complete")

	if addr := c.String(metricsAddrFlag.Name); addr != "" {
		collector := metrics.NewCollector("ghbsim")
		collector.Report(stats, dispatcher.HelperStats())

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.WithField("addr", addr).Info("serving metrics")
		return errors.Wrap(http.ListenAndServe(addr, mux), "serving metrics")
	}
	return nil
}

// blockFramework is the run subcommand's own stand-in CacheFramework,
// independent of the gen subcommand's testbed.Memory -- a deliberately
// simple block/page aligner for traces that didn't come from the testbed.
type blockFramework struct {
	blockBytes uint64
	pageBytes  uint64
}

func (f blockFramework) BlockAddress(addr uint64) uint64 { return (addr / f.blockBytes) * f.blockBytes }
func (f blockFramework) SamePage(a, b uint64) bool       { return a/f.pageBytes == b/f.pageBytes }
func (f blockFramework) PageBytes() uint64               { return f.pageBytes }

func genAction(c *cli.Context) error {
	kind := c.String(kindFlag.Name)
	count := c.Int(countFlag.Name)

	mem := testbed.NewMemory(1<<20, 64, 4096)
	var observed []uint64
	mem.Observe(func(addr uint64, isStore bool) {
		observed = append(observed, addr)
	})

	var program []uint16
	switch kind {
	case "stride":
		program = testbed.StridedLoadProgram(0, 64, count)
	case "matrix":
		program = testbed.MatrixTraversalProgram(0, 8, 96, count, 4)
	case "branchy":
		pred := tage.NewTAGEPredictor()
		outcomes := pred.GenerateOutcomes([]tage.LoopShape{{PC: 0x400, TakenRun: 6}}, count, 0)
		trips := tage.TripCounts(outcomes)
		for _, trip := range trips {
			program = append(program, testbed.StridedLoadProgram(0, 64, trip)...)
		}
	default:
		return errors.Errorf("unknown kind %q (want stride, matrix, or branchy)", kind)
	}

	testbed.LoadProgram(mem, program)
	core := testbed.NewCore(mem)
	core.Run(len(program) * 3)

	if c.Bool(reorderFlag.Name) {
		observed = ooo.ReorderAccesses(observed)
	}

	out, err := os.Create(c.String(outFlag.Name))
	if err != nil {
		return errors.Wrap(err, "creating output trace file")
	}
	defer out.Close()

	if err := trace.Write(out, trace.FromAddrs(observed)); err != nil {
		return errors.Wrap(err, "writing trace file")
	}

	log.WithFields(logrus.Fields{
		"kind":    kind,
		"records": len(observed),
		"out":     c.String(outFlag.Name),
	}).Info("trace generated")
	fmt.Fprintf(c.App.Writer, "wrote %d records to %s\n", len(observed), c.String(outFlag.Name))
	return nil
}
