package cmd

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/grabber/internal/integrity"
	"github.com/tanq16/grabber/internal/metrics"
	"github.com/tanq16/grabber/internal/output"
	"github.com/tanq16/grabber/internal/progress"
	"github.com/tanq16/grabber/internal/scheduler"
	"github.com/tanq16/grabber/internal/utils"
)

// newItem builds an item from CLI or batch input. checksum is "algo:hex" or empty.
func newItem(link, outputPath, checksum string) (utils.DownloadItem, error) {
	item := utils.DownloadItem{URL: link, OutputPath: outputPath}
	if item.OutputPath == "" {
		item.OutputPath = inferOutputPath(link)
	}
	if checksum != "" {
		alg, digest, err := integrity.ParseChecksum(checksum)
		if err != nil {
			return item, err
		}
		item.Integrity = &utils.IntegritySpec{Algorithm: alg, Expected: digest}
	}
	return item, nil
}

func inferOutputPath(link string) string {
	parsed, err := url.Parse(link)
	if err == nil {
		if name := path.Base(parsed.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return "download.bin"
}

// redirectLogs moves logging off the terminal while downloads run. The display
// already reports retries and failures, in live and plain mode alike.
func redirectLogs() func() {
	target := logFile
	if target == "" && debug {
		target = utils.LogFile
	}
	if target == "" {
		utils.SetLogOutput(io.Discard)
		return func() {}
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		output.PrintWarning(fmt.Sprintf("Cannot open log file %s, logs are discarded", target))
		utils.SetLogOutput(io.Discard)
		return func() {}
	}
	utils.SetLogOutput(f)
	return func() { f.Close() }
}

// runItems downloads items and exits non-zero if any of them failed.
func runItems(items []utils.DownloadItem) {
	cfg, err := buildConfig()
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	agg := progress.NewAggregator()
	sched, err := scheduler.New(cfg, scheduler.WithSink(agg))
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	items, err = sched.Prepare(items)
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}

	var recorder *metrics.Recorder
	waitMetrics := func() {}
	if metricsFile != "" {
		recorder = metrics.New("grabber")
		waitMetrics = recorder.Watch(agg)
	}

	plain := plainOutput || !output.IsTerminal()
	defer redirectLogs()()
	mgr := output.NewManager(agg, plain)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Debug().Str("op", "cmd/run").Int("items", len(items)).Int("workers", cfg.MaxConcurrent).Msg("Starting downloads")
	if len(items) > 1 {
		output.PrintHeader(fmt.Sprintf("Downloading %d files with %d workers", len(items), cfg.MaxConcurrent))
	}
	mgr.StartDisplay()
	report, err := sched.Run(ctx, items)
	mgr.StopDisplay()
	waitMetrics()

	if recorder != nil {
		if err := recorder.WriteFile(metricsFile); err != nil {
			output.PrintWarning(err.Error())
		}
	}
	if err != nil {
		output.PrintError(err.Error())
		os.Exit(1)
	}
	mgr.ShowSummary(report)
	if len(report.Failed()) > 0 {
		os.Exit(1)
	}
}
