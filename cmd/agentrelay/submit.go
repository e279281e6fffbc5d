package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/Strob0t/agentrelay/internal/domain/routing"
)

// SubmitCmd posts a work unit to a running relay and prints its events.
type SubmitCmd struct {
	Server string `help:"Relay base URL." default:"http://localhost:8080" env:"AGENTRELAY_SERVER"`
	Kind   string `help:"Content kind (text, json, csv, xml). Guessed from the file extension when empty."`
	Detach bool   `help:"Print the task id and exit without following events."`
	File   string `arg:"" help:"File holding the work unit, or - for stdin." type:"path"`
}

func (c *SubmitCmd) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	content, err := readInput(c.File)
	if err != nil {
		return err
	}
	req := routing.WorkRequest{Content: string(content), Kind: routing.ContentKind(c.Kind)}
	if req.Kind == "" {
		req.Kind = kindFromExt(c.File)
	}
	if err := req.Validate(); err != nil {
		return err
	}

	id, err := submit(ctx, c.Server, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "task %s submitted\n", id)
	if c.Detach {
		fmt.Println(id)
		return nil
	}
	return follow(ctx, c.Server, id, os.Stdout)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is supplied by the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func kindFromExt(path string) routing.ContentKind {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return routing.KindJSON
	case ".csv":
		return routing.KindCSV
	case ".xml":
		return routing.KindXML
	default:
		return routing.KindText
	}
}

func submit(ctx context.Context, server string, req routing.WorkRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(server, "/")+"/a2a/tasks", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(hreq)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("submit: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("submit: decode response: %w", err)
	}
	return out.ID, nil
}

// follow prints each SSE event as "seq type data" until the stream ends.
// On an overflow notice it reconnects from the last seen id.
func follow(ctx context.Context, server, id string, w io.Writer) error {
	var last string
	for {
		overflow, err := followOnce(ctx, server, id, last, w, &last)
		if err != nil || !overflow {
			return err
		}
		fmt.Fprintln(os.Stderr, "stream overflowed, resuming")
	}
}

func followOnce(ctx context.Context, server, id, lastID string, w io.Writer, seen *string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(server, "/")+"/a2a/tasks/"+id+"/events", http.NoBody)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("events: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("events: %s", resp.Status)
	}

	var evID, evType string
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64<<10), 4<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			evID, evType = "", ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			evID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			evType = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			if evType == "overflow" {
				return true, nil
			}
			*seen = evID
			fmt.Fprintf(w, "%s %s %s\n", evID, evType, strings.TrimPrefix(line, "data: "))
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return false, fmt.Errorf("events: %w", err)
	}
	return false, nil
}
