package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Manage environment layer files",
	Long: `Manage the YAML files tools resolve environment variables from.

By default commands edit the user layer (~/.enact/env.yaml); --project
targets the project layer (./.enact/env.yaml), which takes precedence.

Examples:
  enact env list
  enact env set API_URL https://api.acme.dev
  enact env set DEPLOY_TOKEN abc123 --project
  enact env unset DEPLOY_TOKEN --project`,
}

var envListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List variables in a layer",
	RunE:    runEnvList,
}

var envSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Set a variable in a layer",
	Args:  cobra.ExactArgs(2),
	RunE:  runEnvSet,
}

var envUnsetCmd = &cobra.Command{
	Use:   "unset <name>",
	Short: "Remove a variable from a layer",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnvUnset,
}

var envProject bool

func init() {
	envCmd.PersistentFlags().BoolVar(&envProject, "project", false, "target the project layer instead of the user layer")

	envCmd.AddCommand(envListCmd)
	envCmd.AddCommand(envSetCmd)
	envCmd.AddCommand(envUnsetCmd)

	rootCmd.AddCommand(envCmd)
}

func envFilePath() (string, error) {
	if envProject {
		return filepath.Join(".enact", "env.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".enact", "env.yaml"), nil
}

func readEnvFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		values[k] = fmt.Sprintf("%v", v)
	}
	return values, nil
}

func writeEnvFile(path string, values map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	data, err := yaml.Marshal(values)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func runEnvList(_ *cobra.Command, _ []string) error {
	path, err := envFilePath()
	if err != nil {
		return err
	}
	values, err := readEnvFile(path)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		fmt.Printf("No variables in %s\n", path)
		return nil
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fmt.Printf("%s=%s\n", name, values[name])
	}
	return nil
}

func runEnvSet(_ *cobra.Command, args []string) error {
	name, value := args[0], args[1]
	if name != strings.ToUpper(name) {
		return fmt.Errorf("variable names must be uppercase: %s", name)
	}

	path, err := envFilePath()
	if err != nil {
		return err
	}
	values, err := readEnvFile(path)
	if err != nil {
		return err
	}
	values[name] = value
	if err := writeEnvFile(path, values); err != nil {
		return err
	}

	fmt.Printf("Set %s in %s\n", name, path)
	return nil
}

func runEnvUnset(_ *cobra.Command, args []string) error {
	name := args[0]

	path, err := envFilePath()
	if err != nil {
		return err
	}
	values, err := readEnvFile(path)
	if err != nil {
		return err
	}
	if _, ok := values[name]; !ok {
		return fmt.Errorf("%s is not set in %s", name, path)
	}
	delete(values, name)
	if err := writeEnvFile(path, values); err != nil {
		return err
	}

	fmt.Printf("Unset %s in %s\n", name, path)
	return nil
}
