// Command workrailctl is a read-only inspector over a WorkRail data
// directory: it loads a session's validated event prefix and prints the
// derived run-DAG and health projections as JSON. It never writes to the
// event log and never touches the session gate, mirroring the teacher's
// cmd/ocx-cli pattern of a thin CLI over the internal packages it calls.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/workrail/core/internal/config"
	"github.com/workrail/core/internal/eventlog"
	"github.com/workrail/core/internal/ids"
	"github.com/workrail/core/internal/projections"
	"github.com/workrail/core/internal/usecases"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "inspect":
		cmdInspect(os.Args[2:])
	case "sessions":
		cmdSessions(os.Args[2:])
	case "version":
		fmt.Printf("workrailctl v%s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`workrailctl - read-only WorkRail session inspector

Usage: workrailctl <command> [flags]

Commands:
  inspect --session <id> [--node <id>]   Print run-DAG, outputs, and health for a session
  sessions [--limit N]                   List sessions by recency
  version                                Print version
  help                                   Show this help

Environment:
  WORKRAIL_DATA_DIR   Data directory root (default: ./workrail-data)
  WORKRAIL_CONFIG     Path to workrail.yaml (default: ./workrail.yaml)`)
}

func loadConfig() *config.Config {
	cfgPath := os.Getenv("WORKRAIL_CONFIG")
	if cfgPath == "" {
		cfgPath = "workrail.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "workrail-data"
	}
	return cfg
}

func cmdInspect(args []string) {
	var sessionId, nodeId string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--session":
			i++
			if i < len(args) {
				sessionId = args[i]
			}
		case "--node":
			i++
			if i < len(args) {
				nodeId = args[i]
			}
		}
	}
	if sessionId == "" {
		fmt.Fprintln(os.Stderr, "usage: workrailctl inspect --session <id> [--node <id>]")
		os.Exit(1)
	}

	cfg := loadConfig()
	store := eventlog.NewStore(cfg.DataDir)

	result, err := store.LoadValidatedPrefix(ids.SessionId(sessionId))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load session: %v\n", err)
		os.Exit(1)
	}

	dags, err := projections.BuildRunDAGs(result.Truth.Events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build run DAG: %v\n", err)
		os.Exit(1)
	}
	outputs, err := projections.BuildNodeOutputs(result.Truth.Events)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build outputs: %v\n", err)
		os.Exit(1)
	}
	health := projections.ComputeSessionHealth(result.Truth.Events)

	report := inspectReport{
		SessionId:  sessionId,
		IsComplete: result.IsComplete,
		TailReason: string(result.TailReason),
		Health:     health,
		Runs:       dags,
		Outputs:    outputs,
	}
	if nodeId != "" {
		prompt, err := usecases.BuildRecoveryPrompt(result.Truth.Events, ids.NodeId(nodeId), cfg.Recovery.BudgetBytes)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to build recovery prompt: %v\n", err)
			os.Exit(1)
		}
		report.RecoveryPrompt = &prompt
	}

	printJSON(report)
}

type inspectReport struct {
	SessionId      string                                 `json:"sessionId"`
	IsComplete     bool                                   `json:"isComplete"`
	TailReason     string                                 `json:"tailReason,omitempty"`
	Health         projections.SessionHealth               `json:"health"`
	Runs           map[ids.RunId]*projections.RunDAG       `json:"runs"`
	Outputs        map[ids.NodeId]projections.NodeOutputs  `json:"outputs"`
	RecoveryPrompt *usecases.RecoveryPrompt                `json:"recoveryPrompt,omitempty"`
}

func cmdSessions(args []string) {
	limit := -1
	for i := 0; i < len(args); i++ {
		if args[i] == "--limit" && i+1 < len(args) {
			i++
			fmt.Sscanf(args[i], "%d", &limit)
		}
	}

	cfg := loadConfig()
	if limit < 0 {
		limit = cfg.Resume.MaxCandidates
	}

	store := eventlog.NewStore(cfg.DataDir)
	gateDir := cfg.DataDir
	u := usecases.New(nil, nil, store, nil, gateDir, usecases.Options{MaxResumeCandidates: limit})

	summaries, err := u.EnumerateSessionsByRecency()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to list sessions: %v\n", err)
		os.Exit(1)
	}
	printJSON(summaries)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
		os.Exit(1)
	}
}
