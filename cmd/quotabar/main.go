package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/tokligence/quotabar/internal/config"
	"github.com/tokligence/quotabar/internal/pubstore"
	"github.com/tokligence/quotabar/internal/usage"
	"github.com/tokligence/quotabar/internal/version"
)

func main() {
	cmd := "usage"
	args := []string{}
	if len(os.Args) > 1 {
		cmd = os.Args[1]
		args = os.Args[2:]
	}

	switch cmd {
	case "usage":
		run(cmdUsage, args)
	case "status":
		run(cmdStatus, args)
	case "refresh":
		run(cmdRefresh, args)
	case "reset":
		run(cmdReset, args)
	case "version":
		fmt.Println(version.FullInfo())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Print(`quotabar - usage and quota overview across configured sources

Usage:
  quotabar [usage]            Show current usage per source
  quotabar status             Show refresh state and last error
  quotabar refresh [source]   Trigger a refresh (all sources or one)
  quotabar reset              Clear cached usage and the shared document
  quotabar version            Print build information

Flags:
  --addr string    daemon address override (default from config)
  --json           print the raw JSON response
`)
}

type cliEnv struct {
	addr    string
	rawJSON bool
	cfg     config.DaemonConfig
	client  *http.Client
}

func run(fn func(env cliEnv, args []string) error, args []string) {
	fs := flag.NewFlagSet("quotabar", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr := fs.String("addr", "", "daemon address")
	rawJSON := fs.Bool("json", false, "raw JSON output")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.LoadDaemonConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	env := cliEnv{
		addr:    baseAddr(*addr, cfg.HTTPAddress),
		rawJSON: *rawJSON,
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	if err := fn(env, fs.Args()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// baseAddr turns a listen address like ":8185" into a dialable URL.
func baseAddr(override, listen string) string {
	addr := strings.TrimSpace(override)
	if addr == "" {
		addr = strings.TrimSpace(listen)
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/")
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

type windowView struct {
	Used       float64    `json:"used"`
	Total      float64    `json:"total"`
	Percentage float64    `json:"percentage"`
	Remaining  float64    `json:"remaining"`
	ResetsAt   *time.Time `json:"resets_at,omitempty"`
}

type sourceView struct {
	Source      string                `json:"source"`
	DisplayName string                `json:"display_name"`
	State       string                `json:"state"`
	Windows     map[string]windowView `json:"windows,omitempty"`
	FetchedAt   *time.Time            `json:"fetched_at,omitempty"`
}

type usageResponse struct {
	Sources []sourceView `json:"sources"`
}

type statusResponse struct {
	Refreshing  bool       `json:"refreshing"`
	LastCycleAt *time.Time `json:"last_cycle_at,omitempty"`
	LastError   *struct {
		Kind    string `json:"kind"`
		Source  string `json:"source,omitempty"`
		Message string `json:"message"`
	} `json:"last_error,omitempty"`
}

func cmdUsage(env cliEnv, _ []string) error {
	body, err := env.get("/v1/usage")
	if err != nil {
		// Daemon down: fall back to the shared publication document.
		return printPublished(env)
	}
	if env.rawJSON {
		fmt.Println(string(body))
		return nil
	}
	var resp usageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode usage response: %w", err)
	}
	for _, sv := range resp.Sources {
		printSource(sv)
	}
	return nil
}

func cmdStatus(env cliEnv, _ []string) error {
	body, err := env.get("/v1/status")
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", env.addr, err)
	}
	if env.rawJSON {
		fmt.Println(string(body))
		return nil
	}
	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decode status response: %w", err)
	}
	fmt.Printf("refreshing: %v\n", resp.Refreshing)
	if resp.LastCycleAt != nil {
		fmt.Printf("last cycle: %s (%s ago)\n", resp.LastCycleAt.Format(time.RFC3339), time.Since(*resp.LastCycleAt).Round(time.Second))
	} else {
		fmt.Println("last cycle: never")
	}
	if resp.LastError != nil {
		if resp.LastError.Source != "" {
			fmt.Printf("last error: [%s] %s: %s\n", resp.LastError.Kind, resp.LastError.Source, resp.LastError.Message)
		} else {
			fmt.Printf("last error: [%s] %s\n", resp.LastError.Kind, resp.LastError.Message)
		}
	} else {
		fmt.Println("last error: none")
	}
	return nil
}

func cmdRefresh(env cliEnv, args []string) error {
	path := "/v1/refresh"
	if len(args) > 0 {
		src, err := usage.ParseSource(args[0])
		if err != nil {
			return err
		}
		path += "/" + string(src)
	}
	body, err := env.post(path)
	if err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", env.addr, err)
	}
	if env.rawJSON {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println("refresh triggered")
	return nil
}

func cmdReset(env cliEnv, _ []string) error {
	if _, err := env.post("/v1/reset"); err != nil {
		return fmt.Errorf("daemon unreachable at %s: %w", env.addr, err)
	}
	fmt.Println("cached usage and shared document cleared")
	return nil
}

// printPublished renders the last published aggregate without the daemon.
func printPublished(env cliEnv) error {
	store, err := pubstore.NewFileStore(env.cfg.PublishDir, env.cfg.PublishNamespace)
	if err != nil {
		return err
	}
	agg, err := store.Read()
	if err != nil {
		return err
	}
	fmt.Printf("daemon unreachable at %s; showing last published data\n", env.addr)
	if len(agg) == 0 {
		fmt.Println("no published data")
		return nil
	}
	for _, src := range usage.AllSources() {
		snap, ok := agg[src]
		if !ok {
			continue
		}
		sv := sourceView{Source: string(src), DisplayName: src.DisplayName(), State: "ok"}
		sv.Windows = make(map[string]windowView, len(snap.Windows))
		for name, w := range snap.Windows {
			sv.Windows[name] = windowView{
				Used:       w.Used,
				Total:      w.Total,
				Percentage: w.Percentage(),
				Remaining:  w.Remaining(),
				ResetsAt:   w.ResetsAt,
			}
		}
		fetched := snap.FetchedAt
		sv.FetchedAt = &fetched
		printSource(sv)
	}
	return nil
}

func printSource(sv sourceView) {
	switch sv.State {
	case "not_configured":
		fmt.Printf("%-12s not configured\n", sv.DisplayName)
		return
	case "no_data":
		fmt.Printf("%-12s no data yet\n", sv.DisplayName)
		return
	}
	age := ""
	if sv.FetchedAt != nil {
		age = fmt.Sprintf(" (as of %s ago)", time.Since(*sv.FetchedAt).Round(time.Second))
	}
	fmt.Printf("%s%s\n", sv.DisplayName, age)
	names := make([]string, 0, len(sv.Windows))
	for name := range sv.Windows {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w := sv.Windows[name]
		line := fmt.Sprintf("  %-10s %5.1f%% used", name, w.Percentage)
		if w.ResetsAt != nil {
			line += fmt.Sprintf(", resets in %s", time.Until(*w.ResetsAt).Round(time.Minute))
		}
		fmt.Println(line)
	}
}

func (env cliEnv) get(path string) ([]byte, error) {
	resp, err := env.client.Get(env.addr + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (env cliEnv) post(path string) ([]byte, error) {
	resp, err := env.client.Post(env.addr+path, "application/json", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return body, nil
}
