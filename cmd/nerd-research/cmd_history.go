// Package main implements the session archive CLI commands.
// This file handles listing, rereading, searching, and deleting
// archived research runs.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"researchnerd/internal/store"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	historyLimit int
	showJSON     bool
	showAppendix bool
	findLimit    int
)

// historyCmd manages archived research sessions
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List and reread archived research sessions",
	Long: `List and manage archived research sessions.

Subcommands:
  list  - List archived sessions (default)
  show  - Render an archived report
  find  - Search archived findings across sessions
  rm    - Delete an archived session

Session IDs can be abbreviated to any unique prefix.`,
	RunE: runHistoryList,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived sessions",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Render an archived report",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyFindCmd = &cobra.Command{
	Use:   "find <term>",
	Short: "Search archived findings across sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runHistoryFind,
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <session-id>",
	Short: "Delete an archived session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryRm,
}

func init() {
	historyCmd.PersistentFlags().IntVar(&historyLimit, "limit", 0, "Maximum rows to list (0 = default)")
	historyShowCmd.Flags().BoolVar(&showJSON, "json", false, "Print the report as JSON")
	historyShowCmd.Flags().BoolVar(&showAppendix, "appendix", false, "Include the research process appendix")
	historyFindCmd.Flags().IntVar(&findLimit, "limit", 0, "Maximum findings to show (0 = default)")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyFindCmd, historyRmCmd)
	rootCmd.AddCommand(historyCmd)
}

func openArchive() (*store.Archive, error) {
	if !appConfig.Storage.Enabled {
		return nil, fmt.Errorf("session archive is disabled (storage.enabled: false in %s)", configPath)
	}
	return store.NewArchive(appConfig.Storage.DatabasePath)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	sessions, err := archive.ListSessions(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Println("No archived sessions found.")
		fmt.Println("Run: nerd-research run \"your question\"")
		return nil
	}

	fmt.Println("Archived Research Sessions")
	fmt.Println(strings.Repeat("─", 78))
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = s.Query
		}
		fmt.Printf("  %-9s %s  %-9s %d iter, %d findings  %s\n",
			shortID(s.ID),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			s.Outcome,
			s.Iterations,
			s.LearningCount,
			truncate(title, 34))
	}
	fmt.Println(strings.Repeat("─", 78))
	fmt.Printf("Total: %d session(s)\n", len(sessions))
	fmt.Println("\nUse: nerd-research history show <session-id>")
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	id, err := archive.ResolveID(args[0])
	if err != nil {
		return err
	}

	artifact, err := archive.LoadArtifact(id)
	if errors.Is(err, store.ErrNoArtifact) {
		snap, snapErr := archive.LoadSnapshot(id)
		if snapErr != nil {
			return snapErr
		}
		fmt.Printf("Session %s (%q) ended %s with no report.\n", shortID(id), snap.Query, snap.State)
		return nil
	}
	if err != nil {
		return err
	}

	if showJSON {
		data, err := artifact.JSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	artifact.IncludeAppendix = showAppendix
	markdown := artifact.Markdown()
	if term.IsTerminal(int(os.Stdout.Fd())) {
		if rendered, err := renderMarkdown(markdown); err == nil {
			fmt.Print(rendered)
			return nil
		}
	}
	fmt.Print(markdown)
	return nil
}

func runHistoryFind(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	searchTerm := strings.Join(args, " ")
	hits, err := archive.FindLearnings(searchTerm, findLimit)
	if err != nil {
		return fmt.Errorf("failed to search findings: %w", err)
	}
	if len(hits) == 0 {
		fmt.Printf("No archived findings match %q.\n", searchTerm)
		return nil
	}

	fmt.Printf("Findings matching %q\n", searchTerm)
	fmt.Println(strings.Repeat("─", 78))
	for _, h := range hits {
		fmt.Printf("  [%s] %s\n", shortID(h.SessionID), truncate(h.Content, 64))
		fmt.Printf("%12s from %q, iteration %d, confidence %.2f\n",
			"", truncate(h.Query, 40), h.Iteration, h.Confidence)
	}
	fmt.Println(strings.Repeat("─", 78))
	fmt.Printf("Total: %d finding(s)\n", len(hits))
	return nil
}

func runHistoryRm(cmd *cobra.Command, args []string) error {
	archive, err := openArchive()
	if err != nil {
		return err
	}
	defer archive.Close()

	id, err := archive.ResolveID(args[0])
	if err != nil {
		return err
	}
	if err := archive.DeleteSession(id); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	fmt.Printf("Deleted session %s\n", id)
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
