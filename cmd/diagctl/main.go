// Package main implements the diagctl CLI for operating diagnostic
// sessions against a running diagd server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the diagd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "diagctl",
	Short: "CLI for diagd diagnostic sessions",
	Long: `diagctl is a command-line interface for the diagd diagnostic daemon.
It starts diagnostic queries, answers workflow checkpoints, and fetches
session status and reports.`,
	Version: version,
}

var (
	querySession   string
	decideFeedback string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8642", "diagd server URL")
	queryCmd.Flags().StringVar(&querySession, "session", "", "existing session id (default: new session)")
	decideCmd.Flags().StringVar(&decideFeedback, "feedback", "", "operator feedback for the decision")
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(decideCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(endCmd)
	rootCmd.AddCommand(healthCmd)
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Start a diagnostic turn",
	Long: `Start a diagnostic turn for an operator query.

Examples:
  # New session
  diagctl query "Pressure is very high, what should I do?"

  # Follow-up on an existing session
  diagctl query --session 3f6b... "What about the capper?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

var decideCmd = &cobra.Command{
	Use:   "decide <session-id> <continue|edit|synthesize|quit>",
	Short: "Answer a workflow checkpoint",
	Long: `Answer the checkpoint a session is paused at.

Examples:
  diagctl decide 3f6b... continue
  diagctl decide 3f6b... edit --feedback "check the labeler instead"
  diagctl decide 3f6b... synthesize`,
	Args: cobra.ExactArgs(2),
	RunE: runDecide,
}

var statusCmd = &cobra.Command{
	Use:   "status <session-id>",
	Short: "Show session status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Print the latest report for a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List live sessions",
	RunE:  runSessions,
}

var endCmd = &cobra.Command{
	Use:   "end <session-id>",
	Short: "Terminate a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnd,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check diagd server health",
	RunE:  runHealth,
}

// Request and response bodies matching internal/server/handlers.go.
type queryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Query     string `json:"query"`
}

type queryResponse struct {
	SessionID  string `json:"session_id"`
	TurnNumber int    `json:"turn_number"`
}

type decisionRequest struct {
	Choice   string `json:"choice"`
	Feedback string `json:"feedback,omitempty"`
}

type reportResponse struct {
	SessionID string `json:"session_id"`
	Report    string `json:"report"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func runQuery(cmd *cobra.Command, args []string) error {
	var resp queryResponse
	if err := postJSON("/api/v1/query", queryRequest{SessionID: querySession, Query: args[0]}, &resp); err != nil {
		return err
	}
	fmt.Printf("Session: %s\n", resp.SessionID)
	fmt.Printf("Turn:    %d\n", resp.TurnNumber)
	fmt.Printf("\nPoll progress with:  diagctl status %s\n", resp.SessionID)
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/decision", args[0])
	if err := postJSON(path, decisionRequest{Choice: args[1], Feedback: decideFeedback}, nil); err != nil {
		return err
	}
	fmt.Printf("Decision %q accepted\n", args[1])
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := get(fmt.Sprintf("/api/v1/sessions/%s/status", args[0]))
	if err != nil {
		return err
	}
	// Status is printed as returned; the snapshot is self-describing.
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return fmt.Errorf("failed to format status: %w", err)
	}
	fmt.Println(pretty.String())
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	body, err := get(fmt.Sprintf("/api/v1/sessions/%s/report", args[0]))
	if err != nil {
		return err
	}
	var resp reportResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode report: %w", err)
	}
	fmt.Println(resp.Report)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	body, err := get("/api/v1/sessions")
	if err != nil {
		return err
	}
	var resp struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode session list: %w", err)
	}
	if len(resp.Sessions) == 0 {
		fmt.Println("No live sessions")
		return nil
	}
	for _, id := range resp.Sessions {
		fmt.Println(id)
	}
	return nil
}

func runEnd(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete, serverURL+"/api/v1/sessions/"+args[0], nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if _, err := do(req); err != nil {
		return err
	}
	fmt.Printf("Session %s ended\n", args[0])
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := get("/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to reach %s: %v\n", serverURL, err)
		return err
	}
	var resp healthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	fmt.Printf("Server Status: %s\n", resp.Status)
	fmt.Printf("Live Sessions: %d\n", resp.Sessions)
	fmt.Printf("Server URL:    %s\n", serverURL)
	return nil
}

func postJSON(path string, payload, out any) error {
	reqJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, serverURL+path, bytes.NewReader(reqJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func get(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, serverURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return do(req)
}

func do(req *http.Request) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
