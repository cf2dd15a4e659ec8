package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/hochfrequenz/council-orchestrator/internal/taskstore"
	"github.com/spf13/cobra"
)

var issuesCmd = &cobra.Command{
	Use:   "issues",
	Short: "Inspect tracked issues",
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked issues",
	RunE:  runIssuesList,
}

var issuesShowCmd = &cobra.Command{
	Use:   "show ISSUE_ID",
	Short: "Show an issue's decision log and pull request",
	Args:  cobra.ExactArgs(1),
	RunE:  runIssuesShow,
}

func init() {
	issuesCmd.AddCommand(issuesListCmd)
	issuesCmd.AddCommand(issuesShowCmd)
	rootCmd.AddCommand(issuesCmd)
}

func openStore() (*taskstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return taskstore.New(cfg.General.DatabasePath)
}

func runIssuesList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	issues, err := store.ListIssues()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tBRANCH\tTITLE")
	for _, issue := range issues {
		branch := issue.BranchName
		if branch == "" {
			branch = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", issue.ID, issue.Status, branch, truncate(issue.Title, 50))
	}
	w.Flush()

	return nil
}

func runIssuesShow(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	issue, err := store.GetIssue(args[0])
	if err != nil {
		return fmt.Errorf("issue %s: %w", args[0], err)
	}

	fmt.Printf("%s (#%d) on %s\n", issue.Title, issue.IssueNumber, issue.RepoFullName)
	fmt.Printf("Status: %s\n", issue.Status)
	if issue.BranchName != "" {
		fmt.Printf("Branch: %s\n", issue.BranchName)
	}
	if issue.SandboxID != "" {
		fmt.Printf("Sandbox: %s\n", issue.SandboxID)
	}

	decisions, err := store.ListDecisions(issue.ID)
	if err != nil {
		return err
	}
	if len(decisions) > 0 {
		fmt.Println("\nDecisions:")
		for _, d := range decisions {
			note := ""
			if d.Note != "" {
				note = " (" + d.Note + ")"
			}
			fmt.Printf("  %s  %s  %d/%d%s\n",
				d.CreatedAt.Format("2006-01-02 15:04"), d.Decision, d.AgreeCount, d.TotalVotes, note)
		}
	}

	if pr, err := store.GetPullRequest(issue.ID); err == nil {
		fmt.Printf("\nPull request: #%d %s (%s)\n", pr.PRNumber, pr.PRURL, pr.Status)
	}

	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
