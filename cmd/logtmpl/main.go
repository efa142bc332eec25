package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/qingrongy/logtmpl/internal/conflict"
	"github.com/qingrongy/logtmpl/internal/config"
	"github.com/qingrongy/logtmpl/internal/head"
	"github.com/qingrongy/logtmpl/internal/llmagent"
	"github.com/qingrongy/logtmpl/internal/match"
	"github.com/qingrongy/logtmpl/internal/pipeline"
	"github.com/qingrongy/logtmpl/internal/report"
	"github.com/qingrongy/logtmpl/internal/sampler"
	"github.com/qingrongy/logtmpl/internal/store"
	"github.com/qingrongy/logtmpl/internal/tui"
	"github.com/qingrongy/logtmpl/internal/validator"
	"github.com/qingrongy/logtmpl/pkg/errors"
	"github.com/qingrongy/logtmpl/pkg/interfaces"
	"github.com/qingrongy/logtmpl/pkg/types"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	app := &cli.App{
		Name:  "logtmpl",
		Usage: "Incrementally learn regex templates from unstructured log files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Usage: "Path to the input log file", Required: true},
			&cli.StringFlag{Name: "output", Usage: "Output directory for reports", Required: true},
			&cli.StringFlag{Name: "config", Usage: "Config directory holding pipeline.yaml"},
			&cli.IntFlag{Name: "batch-size", Usage: "Lines per batch (default from config, spec default 50000)"},
			&cli.StringFlag{Name: "source-hint", Usage: "Library slug hint when routing can't classify"},
			&cli.StringFlag{Name: "library", Usage: "Library id override; required with --match-only"},
			&cli.BoolFlag{Name: "match-only", Usage: "Bypass LM agents; replay C3 against an existing library only"},
			&cli.IntFlag{Name: "skip-threshold", Usage: "Lines left unresolved before invoking the LM is abandoned for the batch tail"},
			&cli.IntFlag{Name: "limit", Usage: "Stop after this many input lines (0 = no limit)"},
			&cli.BoolFlag{Name: "watch", Usage: "Tail --input for appended lines and process them incrementally"},
			&cli.BoolFlag{Name: "tui", Usage: "Render a live bubbletea view of run progress"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	logger := log.New(log.Writer(), "[logtmpl] ", log.LstdFlags)

	cfg, err := config.NewLoader(c.String("config")).LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if n := c.Int("batch-size"); n > 0 {
		cfg.Batch.Size = n
	}
	if c.IsSet("skip-threshold") {
		cfg.Batch.SkipThreshold = c.Int("skip-threshold")
	}

	matchOnly := c.Bool("match-only")
	libraryOverride := c.String("library")
	if matchOnly && libraryOverride == "" {
		return fmt.Errorf("--match-only requires --library")
	}
	if matchOnly && c.Bool("watch") {
		return fmt.Errorf("--watch is not supported with --match-only")
	}

	templateStore, err := store.New(cfg.Store.Dir, cfg.Batch.NMaxSamples, logger)
	if err != nil {
		return fmt.Errorf("failed to open template store: %w", err)
	}

	var observer interfaces.Observer
	var chanObs *tui.ChannelObserver
	if c.Bool("tui") {
		chanObs = tui.NewChannelObserver(64)
		observer = chanObs
	}

	matchEngine := match.New(4, logger)
	headManager := head.New(nil, sampler.New(0), observer, logger)

	var orch *pipeline.Orchestrator
	if !matchOnly {
		agent := llmagent.New(llmagent.Config{
			APIKey:        cfg.LM.APIKey,
			Endpoint:      cfg.LM.Endpoint,
			Model:         cfg.LM.Model,
			Temperature:   cfg.LM.Temperature,
			MaxTokens:     cfg.LM.MaxTokens,
			Timeout:       cfg.LM.Timeout,
			RatePerSecond: cfg.LM.RatePerSecond,
			Burst:         cfg.LM.Burst,
		}, logger)
		headManager = head.New(agent, sampler.New(0), observer, logger)
		orch = pipeline.New(
			templateStore, matchEngine, headManager,
			validator.New(), conflict.New(), agent, observer, logger,
			pipeline.Config{SkipThreshold: cfg.Batch.SkipThreshold, MaxRefineIterations: cfg.Batch.MaxRefineRounds},
		)
	}

	reportWriter, err := report.New(c.String("output"), logger)
	if err != nil {
		return fmt.Errorf("failed to init report writer: %w", err)
	}

	var uiDone chan struct{}
	if chanObs != nil {
		uiDone = make(chan struct{})
		go func() {
			defer close(uiDone)
			p := tea.NewProgram(tui.New(chanObs.Events()))
			_, _ = p.Run()
		}()
	}

	ctx := context.Background()
	runErr := runInput(ctx, c, cfg, templateStore, matchEngine, headManager, orch, reportWriter, matchOnly, libraryOverride, logger)

	if chanObs != nil {
		chanObs.Close()
		<-uiDone
	}
	return runErr
}

func runInput(
	ctx context.Context,
	c *cli.Context,
	cfg *config.AppConfig,
	templateStore interfaces.TemplateStore,
	matchEngine interfaces.MatchEngine,
	headManager interfaces.HeadManager,
	orch *pipeline.Orchestrator,
	reportWriter *report.Writer,
	matchOnly bool,
	libraryOverride string,
	logger *log.Logger,
) error {
	inputPath := c.String("input")
	sourceHint := c.String("source-hint")
	limit := c.Int("limit")

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var processed int
	for {
		lines, err := readBatch(scanner, cfg.Batch.Size, limit, &processed)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			break
		}

		runID := uuid.NewString()
		if matchOnly {
			view, err := templateStore.LoadLibrary(libraryOverride)
			if err != nil {
				return fmt.Errorf("failed to load library %q: %w", libraryOverride, err)
			}
			records := pipeline.Replay(matchEngine, libraryOverride, lines, headManager, view.Head, view.Templates)
			matched := 0
			for _, r := range records {
				if r.Matched {
					matched++
				}
			}
			summary := &types.LogProcessingSummary{
				RunID: runID, LibraryID: libraryOverride, TotalLines: len(lines),
				MatchedLines: matched, UnresolvedLines: len(lines) - matched,
				Matches: records, Latency: matchEngine.LatencySnapshot(),
				StartedAt: time.Now(), FinishedAt: time.Now(),
			}
			if err := reportWriter.Write(summary); err != nil {
				return fmt.Errorf("failed to write report: %w", err)
			}
			continue
		}

		summary, err := orch.ProcessBatch(ctx, runID, lines, sourceHint, libraryOverride)
		if err != nil {
			return fmt.Errorf("batch %s failed: %w", runID, err)
		}
		if err := reportWriter.Write(summary); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
	}

	if c.Bool("watch") {
		return watchAppend(ctx, inputPath, scanner, cfg, templateStore, matchEngine, headManager, orch, reportWriter, matchOnly, libraryOverride, sourceHint, logger)
	}
	if processed == 0 {
		return errors.NewInputError("no lines read")
	}
	return nil
}

// readBatch drains up to size lines (respecting limit) from scanner.
func readBatch(scanner *bufio.Scanner, size, limit int, processed *int) ([]types.RawLine, error) {
	var lines []types.RawLine
	for len(lines) < size {
		if limit > 0 && *processed >= limit {
			break
		}
		if !scanner.Scan() {
			break
		}
		lines = append(lines, types.RawLine{Index: uint64(*processed), Text: scanner.Text()})
		*processed++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed reading input: %w", err)
	}
	return lines, nil
}

// watchAppend implements spec's --watch mode: tail the input file for
// appended lines via fsnotify and feed each newly written chunk through
// the same per-batch path as the initial read (spec §5's backpressure
// model already assumes a "runner reads input in bounded batches"; watch
// just keeps doing that as the file grows).
func watchAppend(
	ctx context.Context,
	path string,
	scanner *bufio.Scanner,
	cfg *config.AppConfig,
	templateStore interfaces.TemplateStore,
	matchEngine interfaces.MatchEngine,
	headManager interfaces.HeadManager,
	orch *pipeline.Orchestrator,
	reportWriter *report.Writer,
	matchOnly bool,
	libraryOverride, sourceHint string,
	logger *log.Logger,
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch %q: %w", path, err)
	}

	logger.Printf("watching %s for appended lines", path)
	processed := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Write == 0 {
				continue
			}
			lines, err := readBatch(scanner, cfg.Batch.Size, 0, &processed)
			if err != nil {
				return err
			}
			if len(lines) == 0 {
				continue
			}
			runID := uuid.NewString()
			summary, err := orch.ProcessBatch(ctx, runID, lines, sourceHint, libraryOverride)
			if err != nil {
				return fmt.Errorf("watch batch %s failed: %w", runID, err)
			}
			if err := reportWriter.Write(summary); err != nil {
				return fmt.Errorf("failed to write watch report: %w", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("watch error: %v", err)
		}
	}
}
