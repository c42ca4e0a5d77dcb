// Package main implements the agentmem CLI: a local-first, multi-layer
// memory engine for AI coding agents, exposed as an operation namespace.
//
// Commands:
//   - ops         list layers and operations
//   - invoke      call one operation with JSON arguments
//   - ingest      append an episodic event
//   - recall      run the cascading recall pipeline
//   - consolidate run one consolidation pass
//   - serve       run the background consolidation scheduler
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"agentmem/internal/config"
	"agentmem/internal/embedding"
	"agentmem/internal/engine"
	"agentmem/internal/llmclient"
	"agentmem/internal/logging"
	"agentmem/internal/operations"
)

var (
	configPath string
	project    string
	dbPath     string
	offline    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentmem",
	Short: "Local-first multi-layer memory engine for AI coding agents",
	Long: `agentmem records timestamped work events, distills them into reusable
knowledge through sleep-like consolidation, and answers natural-language
queries across its episodic, semantic, procedural, prospective, and graph
layers.

External collaborators (embedding provider, LLM client) are optional: when
they are unreachable the engine degrades rather than failing.`,
	SilenceUsage: true,
}

// boot loads configuration, wires logging, and assembles the engine.
// Embedding and LLM clients are best-effort: a missing provider leaves the
// corresponding tier degraded.
func boot(ctx context.Context) (*engine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Storage.DatabasePath = dbPath
	}
	if err := logging.Configure(cfg.Logging); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	opts := engine.Options{}
	if !offline {
		emb, err := embedding.NewEngine(embedding.Config{
			Provider:       cfg.Embedding.Provider,
			Dim:            cfg.Embedding.Dim,
			OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
			OllamaModel:    cfg.Embedding.OllamaModel,
			GenAIAPIKey:    os.Getenv("GEMINI_API_KEY"),
			GenAIModel:     cfg.Embedding.GenAIModel,
			TaskType:       cfg.Embedding.TaskType,
		})
		if err != nil {
			logging.Get(logging.CategoryBoot).Warn("embedding provider unavailable, lexical-only search: %v", err)
		} else {
			opts.Embedding = emb
		}

		if os.Getenv("GEMINI_API_KEY") != "" {
			llm, err := llmclient.NewGenAIClient(ctx, llmclient.Config{
				APIKey: os.Getenv("GEMINI_API_KEY"),
				Model:  cfg.LLM.Model,
			})
			if err != nil {
				logging.Get(logging.CategoryBoot).Warn("llm client unavailable, synthesis and S2 validation degraded: %v", err)
			} else {
				opts.LLM = llm
			}
		}
	}

	return engine.New(cfg, opts)
}

func printEnvelope(env operations.Envelope) error {
	b, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	if env.Status != "ok" {
		return fmt.Errorf("%s: %s", env.Code, env.Message)
	}
	return nil
}

var opsCmd = &cobra.Command{
	Use:   "ops [layer]",
	Short: "List layers, or the operations of one layer",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if len(args) == 0 {
			return printEnvelope(e.Invoke(ctx, "list_layers", nil, 0, 0))
		}
		return printEnvelope(e.Invoke(ctx, "list_operations", map[string]any{"layer": args[0]}, 100, 0))
	},
}

var invokeCmd = &cobra.Command{
	Use:   "invoke <operation_id> [json-args]",
	Short: "Call one operation with JSON arguments",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opArgs := map[string]any{}
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &opArgs); err != nil {
				return fmt.Errorf("parse arguments: %w", err)
			}
		}
		if _, ok := opArgs["project_id"]; !ok {
			opArgs["project_id"] = project
		}
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return printEnvelope(e.Invoke(ctx, args[0], opArgs, limit, offset))
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <content>",
	Short: "Append one episodic event",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		session, _ := cmd.Flags().GetString("session")
		if session == "" {
			session = uuid.NewString()
		}
		eventType, _ := cmd.Flags().GetString("type")
		outcome, _ := cmd.Flags().GetString("outcome")

		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return printEnvelope(e.Invoke(ctx, "episodic/append", map[string]any{
			"project_id": project,
			"session_id": session,
			"content":    args[0],
			"event_type": eventType,
			"outcome":    outcome,
		}, 0, 0))
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Run the cascading recall pipeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		k, _ := cmd.Flags().GetInt("k")
		depth, _ := cmd.Flags().GetInt("depth")
		explain, _ := cmd.Flags().GetBool("explain")
		confidence, _ := cmd.Flags().GetBool("confidence")

		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return printEnvelope(e.Invoke(ctx, "recall/query", map[string]any{
			"project_id":         project,
			"query":              args[0],
			"k":                  k,
			"cascade_depth":      depth,
			"explain":            explain,
			"include_confidence": confidence,
		}, k, 0))
	},
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Run one consolidation pass now",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		strategy, _ := cmd.Flags().GetString("strategy")
		session, _ := cmd.Flags().GetString("session")

		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()
		return printEnvelope(e.Invoke(ctx, "consolidation/run", map[string]any{
			"project_id": project,
			"strategy":   strategy,
			"session_id": session,
		}, 0, 0))
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background consolidation scheduler until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := boot(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		if err := e.StartScheduler(project); err != nil {
			return err
		}
		fmt.Printf("agentmem: scheduler running for project %q (schedule %s), ctrl-c to stop\n",
			project, e.Cfg.Consolidation.CronSchedule)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sig:
		case <-ctx.Done():
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".agentmem/config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVarP(&project, "project", "p", "default", "project scope")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "override database path")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "skip embedding/LLM providers entirely")

	invokeCmd.Flags().Int("limit", 10, "page size")
	invokeCmd.Flags().Int("offset", 0, "page offset")

	ingestCmd.Flags().String("session", "", "session id (random when omitted)")
	ingestCmd.Flags().String("type", "action", "event type")
	ingestCmd.Flags().String("outcome", "none", "event outcome")

	recallCmd.Flags().Int("k", 10, "result count")
	recallCmd.Flags().Int("depth", 2, "cascade depth (1-3)")
	recallCmd.Flags().Bool("explain", false, "include the explanation block")
	recallCmd.Flags().Bool("confidence", false, "include per-item confidence")

	consolidateCmd.Flags().String("strategy", "", "override configured strategy (minimal|speed|balanced|quality)")
	consolidateCmd.Flags().String("session", "", "restrict to one session")

	rootCmd.AddCommand(opsCmd, invokeCmd, ingestCmd, recallCmd, consolidateCmd, serveCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
