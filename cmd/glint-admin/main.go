// ABOUTME: Admin CLI for glint-gateway backend and passport management
// ABOUTME: Speaks the gateway HTTP API with JWT authentication

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
        _ _       _                 _           _
   __ _| (_)_ __ | |_       __ _  __| |_ __ ___ (_)_ __
  / _' | | | '_ \| __|____ / _' |/ _' | '_ ' _ \| | '_ \
 | (_| | | | | | | ||_____| (_| | (_| | | | | | | | | | |
  \__, |_|_|_| |_|\__|     \__,_|\__,_|_| |_| |_|_|_| |_|
  |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := loadConfig(configPath())
	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}

	client := &apiClient{
		baseURL: cfg.Gateway.URL,
		token:   getToken(cfg),
		http:    &http.Client{Timeout: 30 * time.Second},
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "status":
		err = cmdStatus(client)
	case "backends":
		err = cmdBackends(client)
	case "reset":
		err = cmdReset(client, args)
	case "search":
		err = cmdSearch(client, args)
	case "delegate":
		err = cmdDelegate(client, args)
	case "passport":
		err = cmdPassport(client, args)
	case "audit":
		err = cmdAudit(client, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: glint-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                   Show gateway reachability and backend summary")
	fmt.Println("  backends                 List backends with health and circuit state")
	fmt.Println("  reset <backend-id>       Reset a backend's circuit breaker")
	fmt.Println("  search <query...>        Rank tools against a free-text query")
	fmt.Println("  delegate                 Create a delegated child passport")
	fmt.Println("  passport <id>            Show a passport")
	fmt.Println("  audit                    List recent audit entries")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  GLINT_GATEWAY_URL        Gateway base URL (default: http://localhost:8080)")
	fmt.Println("  GLINT_TOKEN              JWT passport token")
	fmt.Println("  GLINT_ADMIN_CONFIG       Config file path (default: ~/.config/glint/glint-admin.toml)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  glint-admin backends")
	fmt.Println("  glint-admin search send an email")
	fmt.Println("  glint-admin reset github")
	fmt.Println("  glint-admin delegate --parent <id> --name 'Code Searcher' --scope 'github:search_code'")
	fmt.Println()
}

// apiClient is a thin JSON client for the gateway HTTP API.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// do issues a request and decodes the JSON response into out. Error responses
// surface the gateway's error message.
func (c *apiClient) do(method, path string, body, out any) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encoding request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("calling gateway: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return resp.StatusCode, fmt.Errorf("%s", apiErr.Error)
		}
		return resp.StatusCode, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// backendStatus mirrors the gateway's backend status response.
type backendStatus struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	ToolCount           int    `json:"tool_count"`
	Healthy             bool   `json:"healthy"`
	LastCheckedAt       string `json:"last_checked_at"`
	LastError           string `json:"last_error"`
	CircuitState        string `json:"circuit_state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// cmdStatus shows gateway reachability and a backend summary
func cmdStatus(client *apiClient) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()

	if _, err := client.do(http.MethodGet, "/health", nil, nil); err != nil {
		yellow.Printf("  Gateway:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Gateway:  ")
	fmt.Printf("connected to %s\n", client.baseURL)

	var resp struct {
		Backends []backendStatus `json:"backends"`
	}
	if _, err := client.do(http.MethodGet, "/api/backends", nil, &resp); err != nil {
		return err
	}

	healthy := 0
	open := 0
	for _, b := range resp.Backends {
		if b.Healthy {
			healthy++
		}
		if b.CircuitState != "closed" {
			open++
		}
	}

	green.Printf("  Backends: ")
	fmt.Printf("%d registered, %d healthy\n", len(resp.Backends), healthy)
	if open > 0 {
		yellow.Printf("  Circuits: ")
		fmt.Printf("%d not closed\n", open)
	}
	fmt.Println()

	return nil
}

// cmdBackends lists all backends with their health and circuit state
func cmdBackends(client *apiClient) error {
	var resp struct {
		Backends []backendStatus `json:"backends"`
	}
	if _, err := client.do(http.MethodGet, "/api/backends", nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Backends")
	cyan.Println("  --------")

	if len(resp.Backends) == 0 {
		fmt.Println("  (no backends registered)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tTOOLS\tHEALTH\tCIRCUIT\tFAILURES\tLAST CHECKED")
	fmt.Fprintln(w, "  --\t----\t-----\t------\t-------\t--------\t------------")

	for _, b := range resp.Backends {
		healthCell := color.GreenString("healthy")
		if !b.Healthy {
			healthCell = color.RedString("unhealthy")
		}
		circuitCell := b.CircuitState
		switch b.CircuitState {
		case "open":
			circuitCell = color.RedString("open")
		case "half-open":
			circuitCell = color.YellowString("half-open")
		}
		checked := b.LastCheckedAt
		if t, err := time.Parse(time.RFC3339, b.LastCheckedAt); err == nil {
			checked = t.Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%d\t%s\t%s\t%d\t%s\n",
			b.ID, truncate(b.Name, 24), b.ToolCount, healthCell, circuitCell,
			b.ConsecutiveFailures, checked)
	}
	w.Flush()
	fmt.Println()

	return nil
}

// cmdReset resets a backend's circuit breaker
func cmdReset(client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: reset <backend-id>")
	}
	backendID := args[0]

	if _, err := client.do(http.MethodPost, "/api/backends/"+backendID+"/reset", nil, nil); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("✓ Reset circuit for backend: %s\n", backendID)

	return nil
}

// cmdSearch ranks tools against a free-text query
func cmdSearch(client *apiClient, args []string) error {
	var topK int
	var terms []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--top-k", "-k":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --top-k: %w", err)
				}
				topK = n
				i++
			}
		default:
			terms = append(terms, args[i])
		}
	}

	if len(terms) == 0 {
		return fmt.Errorf("usage: search <query...> [--top-k N]")
	}
	query := strings.Join(terms, " ")

	path := "/api/tools/search?q=" + url.QueryEscape(query)
	if topK > 0 {
		path += "&top_k=" + strconv.Itoa(topK)
	}

	var resp struct {
		Results []struct {
			Tool struct {
				BackendID   string `json:"backend_id"`
				BackendName string `json:"backend_name"`
				ToolName    string `json:"tool_name"`
				Description string `json:"description"`
			} `json:"tool"`
			Score float64 `json:"score"`
		} `json:"results"`
	}
	if _, err := client.do(http.MethodGet, path, nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Printf("  Tools matching %q\n", query)
	cyan.Println("  ----------------")

	if len(resp.Results) == 0 {
		fmt.Println("  (no matches)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  SCORE\tTOOL\tBACKEND\tDESCRIPTION")
	fmt.Fprintln(w, "  -----\t----\t-------\t-----------")
	for _, r := range resp.Results {
		fmt.Fprintf(w, "  %.3f\t%s\t%s\t%s\n",
			r.Score, r.Tool.ToolName, r.Tool.BackendID, truncate(r.Tool.Description, 48))
	}
	w.Flush()
	fmt.Println()

	return nil
}

// delegateRequest mirrors the gateway's delegate request body.
type delegateRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
	Budget struct {
		MaxToolCalls *int     `json:"maxToolCalls,omitempty"`
		MaxCostUSD   *float64 `json:"maxCostUsd,omitempty"`
		TTLHours     *float64 `json:"ttlHours,omitempty"`
	} `json:"budget"`
}

// passportResponse mirrors the gateway's passport/delegate response.
type passportResponse struct {
	PassportID string   `json:"passport_id"`
	Name       string   `json:"name"`
	ParentID   string   `json:"parent_id"`
	RootID     string   `json:"root_id"`
	Depth      int      `json:"depth"`
	Scopes     []string `json:"scopes"`
	Token      string   `json:"token"`
}

// cmdDelegate creates a delegated child passport
func cmdDelegate(client *apiClient, args []string) error {
	var parentID string
	var req delegateRequest

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--parent", "-p":
			if i+1 < len(args) {
				parentID = args[i+1]
				i++
			}
		case "--name", "-n":
			if i+1 < len(args) {
				req.Name = args[i+1]
				i++
			}
		case "--scope", "-s":
			if i+1 < len(args) {
				req.Scopes = append(req.Scopes, args[i+1])
				i++
			}
		case "--max-tool-calls":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --max-tool-calls: %w", err)
				}
				req.Budget.MaxToolCalls = &n
				i++
			}
		case "--max-cost":
			if i+1 < len(args) {
				f, err := strconv.ParseFloat(args[i+1], 64)
				if err != nil {
					return fmt.Errorf("invalid --max-cost: %w", err)
				}
				req.Budget.MaxCostUSD = &f
				i++
			}
		case "--ttl-hours":
			if i+1 < len(args) {
				f, err := strconv.ParseFloat(args[i+1], 64)
				if err != nil {
					return fmt.Errorf("invalid --ttl-hours: %w", err)
				}
				req.Budget.TTLHours = &f
				i++
			}
		}
	}

	if parentID == "" || req.Name == "" {
		return fmt.Errorf("usage: delegate --parent <id> --name <name> [--scope <scope>]... [--max-tool-calls N] [--max-cost USD] [--ttl-hours H]")
	}

	var resp passportResponse
	if _, err := client.do(http.MethodPost, "/api/passports/"+parentID+"/delegate", req, &resp); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	fmt.Println()
	green.Println("  Passport delegated")
	fmt.Println()
	cyan.Println("  Child Passport")
	cyan.Println("  --------------")
	fmt.Printf("  ID:      %s\n", resp.PassportID)
	fmt.Printf("  Name:    %s\n", resp.Name)
	fmt.Printf("  Parent:  %s\n", resp.ParentID)
	fmt.Printf("  Root:    %s\n", resp.RootID)
	fmt.Printf("  Depth:   %d\n", resp.Depth)
	if len(resp.Scopes) > 0 {
		fmt.Printf("  Scopes:  %s\n", strings.Join(resp.Scopes, ", "))
	} else {
		fmt.Printf("  Scopes:  (none)\n")
	}
	fmt.Println()
	fmt.Println("  Token (keep this secret!):")
	fmt.Println()
	fmt.Println("  " + resp.Token)
	fmt.Println()

	return nil
}

// cmdPassport shows a single passport
func cmdPassport(client *apiClient, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: passport <id>")
	}

	var resp passportResponse
	if _, err := client.do(http.MethodGet, "/api/passports/"+args[0], nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Passport")
	cyan.Println("  --------")
	fmt.Printf("  ID:      %s\n", resp.PassportID)
	fmt.Printf("  Name:    %s\n", resp.Name)
	if resp.ParentID != "" {
		fmt.Printf("  Parent:  %s\n", resp.ParentID)
		fmt.Printf("  Root:    %s\n", resp.RootID)
	}
	fmt.Printf("  Depth:   %d\n", resp.Depth)
	if len(resp.Scopes) > 0 {
		fmt.Printf("  Scopes:  %s\n", strings.Join(resp.Scopes, ", "))
	} else {
		fmt.Printf("  Scopes:  (none)\n")
	}
	fmt.Println()

	return nil
}

// cmdAudit lists recent audit entries
func cmdAudit(client *apiClient, args []string) error {
	limit := 25
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--limit", "-l":
			if i+1 < len(args) {
				n, err := strconv.Atoi(args[i+1])
				if err != nil {
					return fmt.Errorf("invalid --limit: %w", err)
				}
				limit = n
				i++
			}
		}
	}

	var resp struct {
		Entries []struct {
			ID        string `json:"id"`
			ActorID   string `json:"actor_id"`
			Action    string `json:"action"`
			TargetID  string `json:"target_id"`
			Reason    string `json:"reason"`
			Timestamp string `json:"timestamp"`
		} `json:"entries"`
	}
	if _, err := client.do(http.MethodGet, "/api/audit?limit="+strconv.Itoa(limit), nil, &resp); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  Audit Log")
	cyan.Println("  ---------")

	if len(resp.Entries) == 0 {
		fmt.Println("  (no entries)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  TIME\tACTION\tACTOR\tTARGET\tREASON")
	fmt.Fprintln(w, "  ----\t------\t-----\t------\t------")
	for _, e := range resp.Entries {
		ts := e.Timestamp
		if t, err := time.Parse(time.RFC3339, e.Timestamp); err == nil {
			ts = t.Format("Jan 02 15:04")
		}
		actionCell := e.Action
		if e.Action == "delegation_denied" {
			actionCell = color.RedString(e.Action)
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			ts, actionCell, truncate(e.ActorID, 12), truncate(e.TargetID, 16), truncate(e.Reason, 40))
	}
	w.Flush()
	fmt.Println()

	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
