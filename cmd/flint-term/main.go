// ABOUTME: Terminal chat client for the gateway over SSE.
// ABOUTME: Config from ~/.config/flint/term.toml; flags override.

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
)

// termConfig is the TOML bridge configuration.
type termConfig struct {
	URL     string `toml:"url"`
	Token   string `toml:"token"`
	Channel string `toml:"channel"`
	UserID  string `toml:"user_id"`
}

// getConfigPath returns the terminal client config location.
// Priority: FLINT_TERM_CONFIG env var > XDG_CONFIG_HOME/flint/term.toml > ~/.config/flint/term.toml
func getConfigPath() string {
	if envPath := os.Getenv("FLINT_TERM_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "term.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "flint", "term.toml")
}

func loadConfig() termConfig {
	cfg := termConfig{
		URL:     "http://localhost:8788",
		Channel: "terminal",
		UserID:  os.Getenv("USER"),
	}
	if _, err := toml.DecodeFile(getConfigPath(), &cfg); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	return cfg
}

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	toolColor   = color.New(color.Faint)
	errColor    = color.New(color.FgRed)
	thinkColor  = color.New(color.FgMagenta, color.Faint)
)

func main() {
	cfg := loadConfig()
	url := flag.String("url", cfg.URL, "gateway base URL")
	token := flag.String("token", cfg.Token, "bearer token")
	channel := flag.String("channel", cfg.Channel, "channel name")
	user := flag.String("user", cfg.UserID, "user id")
	showReasoning := flag.Bool("reasoning", false, "print reasoning deltas")
	flag.Parse()

	if *user == "" {
		*user = "terminal-user"
	}

	fmt.Printf("connected to %s as %s (ctrl-d to quit)\n", *url, *user)

	stdin := bufio.NewScanner(os.Stdin)
	for {
		promptColor.Print("> ")
		if !stdin.Scan() {
			fmt.Println()
			return
		}
		text := strings.TrimSpace(stdin.Text())
		if text == "" {
			continue
		}
		if err := sendMessage(*url, *token, *channel, *user, text, *showReasoning); err != nil {
			errColor.Fprintf(os.Stderr, "error: %v\n", err)
		}
	}
}

func sendMessage(url, token, channel, user, text string, showReasoning bool) error {
	payload, err := json.Marshal(map[string]any{
		"channel":  channel,
		"userId":   user,
		"peerId":   user,
		"chatType": "direct",
		"text":     text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url+"/v1/threads", strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("gateway returned %d: %v", resp.StatusCode, body["error"])
	}

	return renderStream(resp, showReasoning)
}

// renderStream prints SSE frames as they arrive.
func renderStream(resp *http.Response, showReasoning bool) error {
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)

	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			renderEvent(event, strings.TrimPrefix(line, "data: "), showReasoning)
		}
	}
	fmt.Println()
	return sc.Err()
}

func renderEvent(event, data string, showReasoning bool) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return
	}

	switch event {
	case "text":
		fmt.Print(payload["delta"])
	case "reasoning":
		if showReasoning {
			thinkColor.Print(payload["delta"])
		}
	case "tool_start":
		toolColor.Printf("\n[%v]\n", payload["name"])
	case "tool_end":
		if isErr, _ := payload["isError"].(bool); isErr {
			toolColor.Println("[tool failed]")
		}
	case "error":
		errColor.Printf("\n%v\n", payload["message"])
	case "result":
		if ms, ok := payload["durationMs"].(float64); ok {
			toolColor.Printf("\n(%.1fs · %v)\n", ms/1000, payload["threadId"])
		}
	}
}
