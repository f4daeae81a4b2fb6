// ABOUTME: Minimal fake agent for E2E testing — speaks the wire dialect on stdio.
// ABOUTME: Usage: fake-agent [-reply text] [-approvals] [-delay 50ms]

package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

type message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type agent struct {
	mu        sync.Mutex
	out       *bufio.Writer
	reply     string
	approvals bool
	delay     time.Duration
	sessions  int
	turns     int
	nextID    int
}

func main() {
	reply := flag.String("reply", "", "canned reply text (default: echo the input)")
	approvals := flag.Bool("approvals", false, "request command approval before replying")
	delay := flag.Duration("delay", 25*time.Millisecond, "pause between streamed deltas")
	flag.Parse()

	a := &agent{
		out:       bufio.NewWriter(os.Stdout),
		reply:     *reply,
		approvals: *approvals,
		delay:     *delay,
	}
	if err := a.run(os.Stdin); err != nil {
		fmt.Fprintf(os.Stderr, "fake-agent: %v\n", err)
		os.Exit(1)
	}
}

func (a *agent) write(v any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_, _ = a.out.Write(append(data, '\n'))
	_ = a.out.Flush()
}

func (a *agent) respond(id json.RawMessage, result any) {
	a.write(map[string]any{"id": id, "result": result})
}

func (a *agent) notify(method string, params any) {
	a.write(map[string]any{"method": method, "params": params})
}

func (a *agent) run(in *os.File) error {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			fmt.Fprintf(os.Stderr, "fake-agent: dropping bad line: %v\n", err)
			continue
		}
		a.handle(&msg)
	}
	return sc.Err()
}

func (a *agent) handle(msg *message) {
	switch msg.Method {
	case "initialize":
		a.respond(msg.ID, map[string]any{
			"agentInfo":    map[string]any{"name": "fake-agent", "version": "0.1"},
			"capabilities": map[string]any{},
		})

	case "initialized":
		// notification; nothing to do

	case "thread/start":
		a.sessions++
		a.respond(msg.ID, map[string]any{"thread": map[string]any{"id": fmt.Sprintf("fake-sess-%d", a.sessions)}})

	case "thread/resume":
		var params struct {
			ThreadID string `json:"threadId"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		a.respond(msg.ID, map[string]any{"thread": map[string]any{"id": params.ThreadID}})

	case "turn/start":
		var params struct {
			Input []struct {
				Text string `json:"text"`
			} `json:"input"`
		}
		_ = json.Unmarshal(msg.Params, &params)
		input := ""
		if len(params.Input) > 0 {
			input = params.Input[0].Text
		}

		a.turns++
		turnID := fmt.Sprintf("fake-turn-%d", a.turns)
		a.respond(msg.ID, map[string]any{"turn": map[string]any{"id": turnID}})
		go a.runTurn(turnID, input)

	case "turn/interrupt":
		a.respond(msg.ID, map[string]any{})

	default:
		if len(msg.ID) > 0 {
			a.write(map[string]any{"id": msg.ID, "error": map[string]any{"code": -32601, "message": "method not found"}})
		}
	}
}

func (a *agent) runTurn(turnID, input string) {
	a.notify("turn/started", map[string]any{"turn": map[string]any{"id": turnID}})

	if a.approvals {
		a.nextID++
		a.write(map[string]any{
			"id":     fmt.Sprintf("approval-%d", a.nextID),
			"method": "item/commandExecution/requestApproval",
			"params": map[string]any{"item": map[string]any{"id": "cmd-1", "type": "commandExecution", "command": "echo hi"}},
		})
		time.Sleep(a.delay)
	}

	reply := a.reply
	if reply == "" {
		reply = echoReply(input)
	}
	for _, word := range strings.SplitAfter(reply, " ") {
		a.notify("item/agentMessage/delta", map[string]any{"delta": word})
		time.Sleep(a.delay)
	}

	a.notify("turn/completed", map[string]any{
		"turn":   map[string]any{"id": turnID},
		"status": "completed",
		"usage":  map[string]any{"inputTokens": len(input), "outputTokens": len(reply)},
	})
}

func echoReply(input string) string {
	lower := strings.ToLower(input)
	if strings.Contains(lower, "markdown") || strings.Contains(lower, "list") {
		return "Here is a **markdown** response:\n\n- First item\n- Second item with `code`\n"
	}
	return fmt.Sprintf("Echo: %s", input)
}
