// Command coverquery-cli is an interactive terminal client for a running
// coverquery server. Each run gets its own session, so follow-up questions
// use the server-side history.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
}

type chatResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "coverquery server base URL")
	apiKey := flag.String("api-key", "", "bearer token, if the server requires one")
	flag.Parse()

	client := &http.Client{Timeout: 120 * time.Second}
	sessionID := uuid.NewString()

	fmt.Println("coverquery interactive client")
	fmt.Printf("session: %s\n", sessionID)
	fmt.Println("輸入問題，exit 結束。")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			break
		}

		resp, err := ask(client, *baseURL, *apiKey, sessionID, query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		fmt.Println(resp.Answer)
		if len(resp.Sources) > 0 {
			fmt.Printf("來源: %s\n", strings.Join(resp.Sources, ", "))
		}
		fmt.Println()
	}
}

func ask(client *http.Client, baseURL, apiKey, sessionID, query string) (*chatResponse, error) {
	body, err := json.Marshal(chatRequest{SessionID: sessionID, Query: query})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Message != "" {
			return nil, fmt.Errorf("server returned %d: %s", httpResp.StatusCode, errResp.Message)
		}
		return nil, fmt.Errorf("server returned %d", httpResp.StatusCode)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}
