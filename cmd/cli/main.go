package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	category  string
	limit     int
)

func main() {
	root := &cobra.Command{
		Use:   "sentinel-cli",
		Short: "CLI client for repo-sentinel",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")

	submitCmd := &cobra.Command{
		Use:   "submit [repo-url]",
		Short: "Submit a repository for analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runSubmit,
	}
	submitCmd.Flags().StringVarP(&category, "category", "c", "nodejs", "Runtime category (nodejs, python, go)")
	root.AddCommand(submitCmd)

	root.AddCommand(&cobra.Command{
		Use:   "status [analysis-id]",
		Short: "Show the status of an analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	})

	root.AddCommand(&cobra.Command{
		Use:   "details [analysis-id]",
		Short: "Show the full report for an analysis",
		Args:  cobra.ExactArgs(1),
		RunE:  runDetails,
	})

	root.AddCommand(&cobra.Command{
		Use:   "watch [analysis-id]",
		Short: "Stream analysis events until the run finishes",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch,
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent analyses",
		RunE:  runList,
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum analyses to return")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE:  runHealth,
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSubmit(_ *cobra.Command, args []string) error {
	payload := map[string]any{
		"repo_url": args[0],
		"category": category,
	}
	body, _ := json.Marshal(payload)

	resp, err := http.Post(serverURL+"/analyses", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("server rejected submission (%d): %v", resp.StatusCode, result["error"])
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))
	return nil
}

func runStatus(_ *cobra.Command, args []string) error {
	return getJSON("/analyses/" + args[0])
}

func runDetails(_ *cobra.Command, args []string) error {
	return getJSON("/analyses/" + args[0] + "/details")
}

func runWatch(_ *cobra.Command, args []string) error {
	// No client timeout: the stream stays open until the done event.
	resp, err := http.Get(serverURL + "/analyses/" + args[0] + "/events")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var result map[string]any
		json.NewDecoder(resp.Body).Decode(&result)
		return fmt.Errorf("server returned %d: %v", resp.StatusCode, result["error"])
	}

	var kind string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			kind = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			printEvent(kind, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading event stream: %w", err)
	}
	return nil
}

// printEvent renders one SSE payload as a human-readable line, falling
// back to raw JSON for shapes it does not recognize.
func printEvent(kind, payload string) {
	var ev struct {
		Time     time.Time `json:"time"`
		Log      *struct { // mirrors the server's event envelope
			Level   string `json:"level"`
			Message string `json:"message"`
		} `json:"log"`
		Alert *struct {
			Severity string `json:"severity"`
			Title    string `json:"title"`
		} `json:"alert"`
		Progress *struct {
			Percentage int    `json:"percentage"`
			Stage      string `json:"stage"`
		} `json:"progress"`
		Done *struct {
			RiskScore int    `json:"risk_score"`
			RiskLevel string `json:"risk_level"`
			Error     string `json:"error"`
		} `json:"done"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		fmt.Println(payload)
		return
	}
	stamp := ev.Time.Format("15:04:05")

	switch {
	case kind == "progress" && ev.Progress != nil:
		fmt.Printf("%s  [%3d%%] %s\n", stamp, ev.Progress.Percentage, ev.Progress.Stage)
	case kind == "log" && ev.Log != nil:
		fmt.Printf("%s  %s\n", stamp, ev.Log.Message)
	case kind == "alert" && ev.Alert != nil:
		fmt.Printf("%s  ALERT [%s] %s\n", stamp, strings.ToUpper(ev.Alert.Severity), ev.Alert.Title)
	case kind == "done" && ev.Done != nil:
		if ev.Done.Error != "" {
			fmt.Printf("%s  FAILED: %s\n", stamp, ev.Done.Error)
		} else {
			fmt.Printf("%s  DONE risk=%d level=%s\n", stamp, ev.Done.RiskScore, ev.Done.RiskLevel)
		}
	default:
		fmt.Printf("%s  %s %s\n", stamp, kind, payload)
	}
}

func runList(_ *cobra.Command, _ []string) error {
	return getJSON(fmt.Sprintf("/analyses?limit=%d", limit))
}

func runHealth(_ *cobra.Command, _ []string) error {
	return getJSON("/health")
}

func getJSON(path string) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(serverURL + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}
