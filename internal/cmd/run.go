package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rand/metatot/internal/metatot"
	"github.com/rand/metatot/internal/metatot/candidate"
)

// errNoViableBranches maps the defined no-branch outcome onto its exit code.
var errNoViableBranches = errors.New("no viable branches")

var runCmd = &cobra.Command{
	Use:   "run [task...]",
	Short: "Run a task through the planning engine",
	Long: `Run a task through the planning engine. The decision gate first scores
task complexity and contextual uncertainty; only tasks crossing a threshold
get the full tree search. The result is printed as JSON.

The task can be provided as arguments or piped from stdin.`,
	Example: `
# Simple run with the default goal vector
metatot run "Plan the migration of the billing service"

# Explicit goal hypotheses and context
metatot run --goal on_track=1,off_track=0 \
  --context '{"uncertainty": 0.8}' \
  "Design a rollout strategy for the new storage layer"

# Pipe the task description
cat task.txt | metatot run`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()

		task := strings.TrimSpace(strings.Join(args, " "))
		if task == "" {
			stdin, err := readStdin()
			if err != nil {
				return err
			}
			task = stdin
		}
		if task == "" {
			return fmt.Errorf("no task provided")
		}

		goal, err := parseGoal(cmd)
		if err != nil {
			return err
		}
		taskContext, err := parseContext(cmd)
		if err != nil {
			return err
		}
		cfg, err := engineConfig(cmd)
		if err != nil {
			return err
		}

		client, backend, err := candidate.FromEnv()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "planning with %s backend\n", backend)

		engine, err := metatot.NewEngine(client, cfg)
		if err != nil {
			return fmt.Errorf("create engine: %w", err)
		}
		defer engine.Close()

		result, err := engine.Run(ctx, metatot.Request{
			Task:       task,
			Context:    taskContext,
			GoalVector: goal,
		})
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
		fmt.Println(string(out))

		if result.NoViableBranches() {
			return errNoViableBranches
		}
		return nil
	},
}

func init() {
	runCmd.Flags().String("goal", "on_track=1,off_track=0", "goal vector as key=weight pairs")
	runCmd.Flags().String("context", "", "task context as a JSON object")
	runCmd.Flags().Int("iterations", 0, "max search iterations (0 = default)")
	runCmd.Flags().Int("max-depth", 0, "max tree depth (0 = default)")
	runCmd.Flags().Duration("deadline", 0, "search deadline (0 = default)")
	runCmd.Flags().Int("parallelism", 0, "concurrent sibling expansions (0 = default)")
	runCmd.Flags().Float64("complexity-threshold", 0, "gate complexity threshold (0 = default)")
	runCmd.Flags().Float64("uncertainty-threshold", 0, "gate uncertainty threshold (0 = default)")
}

func engineConfig(cmd *cobra.Command) (metatot.Config, error) {
	cfg := metatot.DefaultConfig()

	if v, _ := cmd.Flags().GetInt("iterations"); v > 0 {
		cfg.Search.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetInt("max-depth"); v > 0 {
		cfg.Search.MaxDepth = v
	}
	if v, _ := cmd.Flags().GetDuration("deadline"); v > 0 {
		cfg.Search.Deadline = v
	}
	if v, _ := cmd.Flags().GetInt("parallelism"); v > 0 {
		cfg.Search.Parallelism = v
	}
	if v, _ := cmd.Flags().GetFloat64("complexity-threshold"); v > 0 {
		cfg.Gate.ComplexityThreshold = v
	}
	if v, _ := cmd.Flags().GetFloat64("uncertainty-threshold"); v > 0 {
		cfg.Gate.UncertaintyThreshold = v
	}
	cfg.TracePath, _ = cmd.Flags().GetString("trace-db")

	return cfg, nil
}

// parseGoal parses "key=weight,key=weight" into a goal vector.
func parseGoal(cmd *cobra.Command) (map[string]float64, error) {
	raw, _ := cmd.Flags().GetString("goal")

	goal := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid goal entry %q (want key=weight)", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid goal weight in %q: %w", pair, err)
		}
		goal[strings.TrimSpace(key)] = w
	}
	if len(goal) == 0 {
		return nil, fmt.Errorf("goal vector is empty")
	}
	return goal, nil
}

func parseContext(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("context")
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var taskContext map[string]any
	if err := json.Unmarshal([]byte(raw), &taskContext); err != nil {
		return nil, fmt.Errorf("parse --context: %w", err)
	}
	return taskContext, nil
}

// readStdin returns piped input, or empty when stdin is a terminal.
func readStdin() (string, error) {
	info, err := os.Stdin.Stat()
	if err != nil {
		return "", err
	}
	if info.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}

	data, err := io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
