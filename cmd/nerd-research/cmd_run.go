package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"researchnerd/cmd/nerd-research/ui"
	"researchnerd/internal/fetch"
	"researchnerd/internal/llm"
	"researchnerd/internal/research"
	"researchnerd/internal/search"
	"researchnerd/internal/store"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

var (
	runDepth   int
	runBreadth int
	runDetail  string
	runOutput  string
	runPlain   bool
	runNoSave  bool
)

// runCmd researches a single query end to end
var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Research a query and synthesize a cited report",
	Long: `Runs the full research loop for one query:
  1. Plan: draft distinct search directions for this iteration
  2. Retrieve: search the web and fetch the promising pages
  3. Evaluate: score each source for relevance and credibility
  4. Accumulate: extract deduplicated findings tied to their sources
  5. Repeat deeper until nothing new turns up or the depth budget ends
  6. Synthesize: write a themed, citation-numbered report

The report prints to stdout (rendered when attached to a terminal) and
the session is archived unless --no-save is given.

Examples:
  nerd-research run "grid scale battery storage economics"
  nerd-research run --depth 3 --breadth 6 --detail comprehensive "CRISPR delivery mechanisms"
  nerd-research run -o report.md "rust async runtime comparison"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	runCmd.Flags().IntVar(&runDepth, "depth", 0, "Research iterations, 1-5 (0 = config default)")
	runCmd.Flags().IntVar(&runBreadth, "breadth", 0, "Search directions per iteration, 2-10 (0 = config default)")
	runCmd.Flags().StringVar(&runDetail, "detail", "", "Report detail level: brief, standard, comprehensive")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "Write the report to a file (.md or .json)")
	runCmd.Flags().BoolVar(&runPlain, "plain", false, "Disable the progress display and markdown rendering")
	runCmd.Flags().BoolVar(&runNoSave, "no-save", false, "Skip archiving the session")

	rootCmd.AddCommand(runCmd)
}

func runResearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		logger.Info("Received shutdown signal")
		cancel()
	}()

	query := strings.Join(args, " ")
	if runDetail != "" {
		appConfig.Report.DetailLevel = runDetail
	}
	if err := appConfig.Validate(); err != nil {
		return err
	}
	detail, err := research.ParseDetailLevel(appConfig.Report.DetailLevel)
	if err != nil {
		return err
	}

	logger.Info("Starting research",
		zap.String("query", query),
		zap.Int("depth", runDepth),
		zap.Int("breadth", runBreadth),
		zap.String("detail", string(detail)))

	llmClient, err := llm.NewFromConfig(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	searcher, err := search.NewSearcher(appConfig)
	if err != nil {
		return fmt.Errorf("failed to create searcher: %w", err)
	}
	fetcher := fetch.NewFetcher(appConfig)
	defer fetcher.Close()

	orch := research.NewOrchestrator(appConfig, llmClient,
		searchProvider{searcher}, pageFetcher{fetcher},
		research.Options{Query: query, Depth: runDepth, Breadth: runBreadth, Detail: detail})

	var artifact *research.Artifact
	if useProgressUI() {
		artifact, err = runWithProgressUI(ctx, cancel, orch)
	} else {
		artifact, err = runWithPlainProgress(ctx, orch)
	}

	snapshot := orch.Session().Snapshot()
	if err != nil {
		// Archive the failed run too so it stays inspectable.
		archiveSession(snapshot, nil)
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("research cancelled")
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("research timed out after %s", timeout)
		}
		return err
	}

	if err := emitReport(artifact); err != nil {
		return err
	}
	archiveSession(snapshot, artifact)
	return nil
}

// useProgressUI reports whether the live display should run. Piped
// output gets plain one-line progress on stderr instead.
func useProgressUI() bool {
	return !runPlain && term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stderr.Fd()))
}

func runWithProgressUI(ctx context.Context, cancel context.CancelFunc, orch *research.Orchestrator) (*research.Artifact, error) {
	// The display owns stderr; the report goes to stdout afterwards.
	prog := tea.NewProgram(ui.NewProgress(orch.Session().Query, cancel), tea.WithOutput(os.Stderr))

	orch.SetProgressCallback(func(ev research.ProgressEvent) {
		prog.Send(ui.ProgressMsg(ev))
	})

	type runResult struct {
		artifact *research.Artifact
		err      error
	}
	resCh := make(chan runResult, 1)
	go func() {
		artifact, err := orch.Run(ctx)
		resCh <- runResult{artifact, err}
		prog.Send(ui.DoneMsg{Err: err})
	}()

	if _, err := prog.Run(); err != nil {
		// A broken display must not kill the research, keep waiting.
		logger.Warn("Progress display failed", zap.Error(err))
	}

	res := <-resCh
	return res.artifact, res.err
}

func runWithPlainProgress(ctx context.Context, orch *research.Orchestrator) (*research.Artifact, error) {
	orch.SetProgressCallback(func(ev research.ProgressEvent) {
		if ev.Message == "" {
			return
		}
		if ev.Iteration > 0 && ev.TotalDepth > 0 {
			fmt.Fprintf(os.Stderr, "[%d/%d] %s (sources %d, findings %d)\n",
				ev.Iteration, ev.TotalDepth, ev.Message, ev.TotalSources, ev.TotalLearnings)
			return
		}
		fmt.Fprintf(os.Stderr, "%s\n", ev.Message)
	})
	return orch.Run(ctx)
}

// emitReport writes the report to the output file when -o is set,
// otherwise renders it to stdout.
func emitReport(artifact *research.Artifact) error {
	if runOutput != "" {
		return writeReportFile(artifact, runOutput)
	}

	markdown := artifact.Markdown()
	if !runPlain && term.IsTerminal(int(os.Stdout.Fd())) {
		if rendered, err := renderMarkdown(markdown); err == nil {
			fmt.Print(rendered)
			return nil
		}
	}
	fmt.Print(markdown)
	return nil
}

func renderMarkdown(markdown string) (string, error) {
	// Auto style picks dark or light from the terminal background
	// unless the user pinned a theme.
	style := glamour.WithAutoStyle()
	if userConfig != nil && userConfig.Theme != "" {
		style = glamour.WithStylePath(userConfig.GetTheme())
	}
	renderer, err := glamour.NewTermRenderer(
		style,
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return "", err
	}
	return renderer.Render(markdown)
}

func writeReportFile(artifact *research.Artifact, path string) error {
	var data []byte
	var err error
	if strings.EqualFold(filepath.Ext(path), ".json") {
		data, err = artifact.JSON()
	} else {
		data = []byte(artifact.Markdown())
	}
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Report written to %s\n", path)
	return nil
}

// archiveSession stores the finished run. Archiving is best effort: a
// report already printed should never be failed by a storage problem.
func archiveSession(snapshot research.SessionSnapshot, artifact *research.Artifact) {
	if runNoSave || !appConfig.Storage.Enabled {
		return
	}

	archive, err := store.NewArchive(appConfig.Storage.DatabasePath)
	if err != nil {
		logger.Warn("Failed to open session archive", zap.Error(err))
		return
	}
	defer archive.Close()

	if err := archive.SaveSession(snapshot, artifact); err != nil {
		logger.Warn("Failed to archive session", zap.Error(err))
		return
	}
	fmt.Fprintf(os.Stderr, "Archived session %s\n", snapshot.ID)
}
