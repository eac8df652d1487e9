package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream live task state from the gateway",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		watch()
	},
}

func init() {
	taskCmd.AddCommand(watchCmd)
}

func watch() {
	u := url.URL{Scheme: "ws", Host: gatewayAddr, Path: "/ws/subscribe"}
	log.Printf("Connecting to %s", u.String())

	header := http.Header{}
	header.Set("X-User-ID", userID)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer c.Close()

	fmt.Println("WebSocket connected. Waiting for updates...")

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			log.Println("read:", err)
			return
		}

		// Pretty print the JSON output
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, message, "", "  "); err != nil {
			log.Printf("Error formatting JSON: %v. Raw message: %s", err, message)
		} else {
			fmt.Println(prettyJSON.String())
		}
	}
}
