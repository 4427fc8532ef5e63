// Command oracle is a thin CLI wrapper around the governance oracle core.
// It carries no business logic of its own: it parses a request, wires the
// local storage adapters, runs one Evaluate call, and maps the resulting
// outcome to an exit code (spec §6, §1 — explicitly out of core scope).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/MultiplicityFoundation/gov-oracle/pkg/config"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/oracle"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/rules"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/blockcounter"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/fpstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/objectstore"
	"github.com/MultiplicityFoundation/gov-oracle/pkg/store/secretstore"
)

// Exit codes, per spec §6.
const (
	exitAllow  = 0
	exitWarn   = 1
	exitBlock  = 2
	exitSystem = 3
)

func main() {
	os.Exit(Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// evalRequest is the minimal JSON shape the wrapper reads from stdin: a
// repo reference, a mode, and the file contents rules evaluate over.
type evalRequest struct {
	Owner   string            `json:"owner"`
	Repo    string            `json:"repo"`
	Mode    string            `json:"mode"`
	Files   map[string]string `json:"files"`
	DryRun  bool              `json:"dryRun"`
	License *struct {
		Tier     string          `json:"tier"`
		Features map[string]bool `json:"features"`
	} `json:"license"`
}

// Run is the CLI entrypoint, separated from main for testability.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("oracle", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dataDir := fs.String("data-dir", "", "local adapter data directory (overrides GOV_ORACLE_DATA_DIR)")
	if err := fs.Parse(args[1:]); err != nil {
		return exitSystem
	}

	cfg := config.Load()
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	var req evalRequest
	if err := json.NewDecoder(stdin).Decode(&req); err != nil {
		fmt.Fprintf(stderr, "oracle: malformed request: %v\n", err)
		return exitSystem
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "oracle: failed to initialize: %v\n", err)
		return exitSystem
	}

	rc := oracle.RuleContext{
		Files: req.Files,
		Repo:  oracle.RepoRef{Owner: req.Owner, Name: req.Repo},
		Mode:  oracle.Mode(req.Mode),
	}
	if req.License != nil {
		rc.License = oracle.License{
			Tier:     oracle.Tier(req.License.Tier),
			Features: req.License.Features,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report, err := engine.Evaluate(ctx, rc, oracle.EvaluateOptions{DryRun: req.DryRun})
	if err != nil {
		fmt.Fprintf(stderr, "oracle: evaluation failed: %v\n", err)
		return exitSystem
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		fmt.Fprintf(stderr, "oracle: failed to encode report: %v\n", err)
		return exitSystem
	}

	switch report.Outcome {
	case oracle.OutcomeAllow:
		return exitAllow
	case oracle.OutcomeWarn:
		return exitWarn
	case oracle.OutcomeBlock:
		return exitBlock
	default:
		return exitSystem
	}
}

// buildEngine wires the local file-backed storage adapters and the
// representative rule set into a ready-to-use Engine.
func buildEngine(cfg *config.Config) (*oracle.Engine, error) {
	registry := oracle.NewRegistry()
	for _, rule := range []oracle.Rule{rules.MD100{}, rules.MD101{}, rules.MD102{}} {
		if err := registry.Register(rule); err != nil {
			return nil, err
		}
	}

	fp := fpstore.NewLocalFPStore(cfg.DataDir, 90*24*time.Hour)
	bc := blockcounter.NewLocalCounter()
	objStore := objectstore.NewLocalObjectStore(cfg.DataDir)

	secretPath := cfg.DataDir + "/secrets.json"
	secretStore, err := secretstore.NewLocalSecretStore(secretPath)
	if err != nil {
		return nil, fmt.Errorf("open secret store: %w", err)
	}

	return oracle.NewEngine(
		registry,
		fp,
		bc,
		secretStore,
		objStore,
		cfg.Thresholds,
		cfg.CircuitBreaker,
		nil,
		nil,
	), nil
}
