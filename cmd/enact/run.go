package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/core"
	"github.com/enactprotocol/enact-go/internal/domain/execution"
)

var runCmd = &cobra.Command{
	Use:   "run <tool-name|manifest-file>",
	Short: "Execute a tool manifest",
	Long: `Execute a tool through the full trust pipeline.

The argument is either a tool name resolved against the tools
directory, or a path to a local manifest file. Local files may run
unsigned; named tools must carry valid signatures.

Examples:
  enact run acme/tools/greet --input name=world
  enact run ./greet.yaml --input name=world --dry-run
  enact run acme/tools/build --sandbox --mount ./src:/workspace
  enact run ./wip.yaml --skip-verification`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

// Flags
var (
	runInputs     []string
	runTimeout    time.Duration
	runMount      string
	runSandbox    bool
	runDirect     bool
	runSkipVerify bool
	runForce      bool
	runDryRun     bool
	runPolicy     string
)

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "tool input as key=value (repeatable)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "override the manifest timeout")
	runCmd.Flags().StringVar(&runMount, "mount", "", "mount a host directory, host[:container]")
	runCmd.Flags().BoolVar(&runSandbox, "sandbox", false, "run in a disposable container")
	runCmd.Flags().BoolVar(&runDirect, "direct", false, "run directly on the host")
	runCmd.Flags().BoolVar(&runSkipVerify, "skip-verification", false, "skip signature verification (local files only)")
	runCmd.Flags().BoolVar(&runForce, "force", false, "override blocked safety findings")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "report the command without executing it")
	runCmd.Flags().StringVar(&runPolicy, "verify-policy", "", "verification policy (permissive, enterprise, paranoid)")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if runSandbox && runDirect {
		return fmt.Errorf("--sandbox and --direct are mutually exclusive")
	}
	providerName := ""
	if runSandbox {
		providerName = execution.EnvironmentSandbox
	}
	if runDirect {
		providerName = execution.EnvironmentDirect
	}

	a, err := buildApp(runPolicy, providerName)
	if err != nil {
		return err
	}
	defer a.close()

	inputs, err := parseInputs(runInputs)
	if err != nil {
		return err
	}

	opts := core.ExecuteOptions{
		SkipVerification: runSkipVerify,
		Force:            runForce,
		DryRun:           runDryRun,
		Timeout:          runTimeout,
	}
	if runMount != "" {
		mount, err := execution.ParseMountSpec(runMount, "/workspace")
		if err != nil {
			return err
		}
		opts.Mount = &mount
	}

	ctx := cmd.Context()
	target := args[0]

	var result *execution.Result
	if isManifestPath(target) {
		data, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}
		opts.IsLocalFile = true
		result = a.api.ExecuteRaw(ctx, data, inputs, opts)
	} else {
		result = a.api.ExecuteByName(ctx, target, inputs, opts)
	}

	return printResult(result)
}

// isManifestPath distinguishes file paths from hierarchical tool
// names. Anything that exists on disk, or looks like a path, is a
// file.
func isManifestPath(target string) bool {
	if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "/") || strings.HasPrefix(target, "../") {
		return true
	}
	if strings.HasSuffix(target, ".yaml") || strings.HasSuffix(target, ".yml") {
		return true
	}
	_, err := os.Stat(target)
	return err == nil
}

func parseInputs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			return nil, fmt.Errorf("invalid input %q, expected key=value", pair)
		}
		inputs[k] = v
	}
	return inputs, nil
}

func printResult(res *execution.Result) error {
	if jsonOut {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		if !res.Success {
			return fmt.Errorf("%s", res.Error.Code)
		}
		return nil
	}

	if res.Output.Stdout != "" {
		fmt.Print(res.Output.Stdout)
		if !strings.HasSuffix(res.Output.Stdout, "\n") {
			fmt.Println()
		}
	}
	if res.Output.Stderr != "" {
		fmt.Fprint(os.Stderr, res.Output.Stderr)
	}
	if !res.Success {
		return fmt.Errorf("%s: %s", res.Error.Code, res.Error.Message)
	}
	return nil
}
