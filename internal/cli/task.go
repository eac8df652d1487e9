package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Trigger and inspect pipeline tasks",
}

var orchestrateCmd = &cobra.Command{
	Use:   "orchestrate [website-url]",
	Short: "Run the full content pipeline for a website",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		triggerTask("/api/v1/orchestrate", map[string]string{"website_url": args[0]})
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze [website-url]",
	Short: "Run a standalone SEO analysis for a website",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		triggerTask("/api/v1/analyze", map[string]string{"website_url": args[0]})
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish [article-id]",
	Short: "Publish an article to the configured CMS",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		platform, _ := cmd.Flags().GetString("platform")
		triggerTask("/api/v1/publish", map[string]string{
			"article_id":   args[0],
			"cms_platform": platform,
		})
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tracked tasks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		getJSON("/api/v1/tasks")
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [task-id]",
	Short: "Request cancellation of a running task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postJSON("/api/v1/tasks/"+args[0]+"/cancel", nil, http.StatusAccepted)
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry [task-id]",
	Short: "Re-run a failed task",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		postJSON("/api/v1/tasks/"+args[0]+"/retry", nil, http.StatusAccepted)
	},
}

var waitCmd = &cobra.Command{
	Use:   "wait [task-id]",
	Short: "Block until a task finishes and print its final status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "/api/v1/tasks/" + args[0] + "/wait"
		if article, _ := cmd.Flags().GetBool("article"); article {
			path += "?target=article"
		}
		getJSON(path)
	},
}

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Print the merged activity feed across all tasks",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		getJSON("/api/v1/feed")
	},
}

func init() {
	rootCmd.AddCommand(taskCmd)
	taskCmd.AddCommand(orchestrateCmd)
	taskCmd.AddCommand(analyzeCmd)
	taskCmd.AddCommand(publishCmd)
	taskCmd.AddCommand(listCmd)
	taskCmd.AddCommand(cancelCmd)
	taskCmd.AddCommand(retryCmd)
	taskCmd.AddCommand(waitCmd)
	taskCmd.AddCommand(feedCmd)

	publishCmd.Flags().String("platform", "wordpress", "CMS platform to publish to")
	waitCmd.Flags().Bool("article", false, "also wait for the produced article ID")
}

func triggerTask(path string, payload map[string]string) {
	result := postJSON(path, payload, http.StatusAccepted)
	fmt.Printf("Task submitted successfully!\nTask ID: %v\n", result["task_id"])
	fmt.Printf("To follow its progress, run: seopilot task watch\n")
}

func postJSON(path string, payload interface{}, wantStatus int) map[string]interface{} {
	body := []byte("{}")
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			log.Fatalf("Error creating JSON payload: %v", err)
		}
	}

	req, err := http.NewRequest(http.MethodPost, "http://"+gatewayAddr+path, bytes.NewBuffer(body))
	if err != nil {
		log.Fatalf("Error creating request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error calling gateway: %v", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}
	if resp.StatusCode != wantStatus {
		log.Fatalf("Gateway returned status %d: %v", resp.StatusCode, result["error"])
	}
	return result
}

func getJSON(path string) {
	req, err := http.NewRequest(http.MethodGet, "http://"+gatewayAddr+path, nil)
	if err != nil {
		log.Fatalf("Error creating request: %v", err)
	}
	req.Header.Set("X-User-ID", userID)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Error calling gateway: %v", err)
	}
	defer resp.Body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		log.Fatalf("Error decoding response: %v", err)
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		log.Fatalf("Error formatting JSON: %v", err)
	}
	fmt.Println(pretty.String())
}
