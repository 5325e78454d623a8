package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fentz26/tether/internal/models"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect daemon sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [client-id]",
	Short: "Show session details",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete [client-id]",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsAuditCmd = &cobra.Command{
	Use:   "audit [client-id]",
	Short: "Show the decision audit trail for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsAudit,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsAuditCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/sessions")
	if err != nil {
		return err
	}

	var sessions []models.Session
	if err := json.Unmarshal(resp, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No active sessions")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CLIENT\tEXCHANGES\tCURRENT TASK\tLAST ACTIVE")
	for _, s := range sessions {
		task := s.CurrentTask
		if task == "" {
			task = "-"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			s.ClientID, len(s.ConversationHistory), task, s.LastActiveAt.Format("15:04:05"))
	}
	return w.Flush()
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/sessions/" + args[0])
	if err != nil {
		return err
	}

	var detail struct {
		models.Session
		AverageConfidence float64 `json:"average_confidence"`
	}
	if err := json.Unmarshal(resp, &detail); err != nil {
		return err
	}

	fmt.Printf("Client: %s\n", detail.ClientID)
	fmt.Printf("Created: %s\n", detail.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Last active: %s\n", detail.LastActiveAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Average confidence: %.2f\n", detail.AverageConfidence)
	if detail.CurrentTask != "" {
		fmt.Printf("Current task: %s\n", detail.CurrentTask)
	}

	fmt.Printf("\nExchanges (%d):\n", len(detail.ConversationHistory))
	for i, ex := range detail.ConversationHistory {
		fmt.Printf("  %d. ▸ %s\n", i+1, ex.Input)
		fmt.Printf("     ◂ %s (%.2f)\n", ex.Output, ex.Confidence)
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete("/sessions/" + args[0]); err != nil {
		return err
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func runSessionsAudit(cmd *cobra.Command, args []string) error {
	resp, err := apiGet("/sessions/" + args[0] + "/audit")
	if err != nil {
		return err
	}

	var records []models.DecisionRecord
	if err := json.Unmarshal(resp, &records); err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No decisions recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tCONFIDENCE\tRECOMMENDATION\tACTION")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%s\n",
			r.Timestamp.Format("15:04:05"), r.Confidence, r.Recommendation, truncate(r.Action, 48))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
