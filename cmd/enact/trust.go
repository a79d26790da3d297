package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Manage trusted signing keys",
	Long: `Manage the public keys whose signatures the verifier accepts.

Keys are stored as PEM files in the trust directory. A tool signature
only counts toward a policy when its public key is in this store.

Examples:
  enact trust list                  # List trusted keys
  enact trust add alice.pem         # Add a trusted key
  enact trust remove 1a2b3c4d5e6f7a8b
  enact trust show 1a2b3c4d5e6f7a8b`,
}

var trustListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List trusted keys",
	RunE:    runTrustList,
}

var trustAddCmd = &cobra.Command{
	Use:   "add <keyfile>",
	Short: "Add a trusted key",
	Long: `Add a public key to the trust store.

Accepted formats:
  - PEM-encoded ECDSA P-256 public keys
  - SSH authorized_keys lines (ecdsa-sha2-nistp256)

Examples:
  enact trust add alice.pem --name alice
  enact trust add ~/.ssh/id_ecdsa.pub --source organization`,
	Args: cobra.ExactArgs(1),
	RunE: runTrustAdd,
}

var trustRemoveCmd = &cobra.Command{
	Use:     "remove <keyid>",
	Aliases: []string{"rm"},
	Short:   "Remove a trusted key",
	Args:    cobra.ExactArgs(1),
	RunE:    runTrustRemove,
}

var trustShowCmd = &cobra.Command{
	Use:   "show <keyid>",
	Short: "Show key details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrustShow,
}

// Flags
var (
	trustKeyName   string
	trustKeySource string
)

func init() {
	trustAddCmd.Flags().StringVar(&trustKeyName, "name", "", "file name for the key in the store")
	trustAddCmd.Flags().StringVar(&trustKeySource, "source", "user", "key provenance (default, organization, user)")

	trustCmd.AddCommand(trustListCmd)
	trustCmd.AddCommand(trustAddCmd)
	trustCmd.AddCommand(trustRemoveCmd)
	trustCmd.AddCommand(trustShowCmd)

	rootCmd.AddCommand(trustCmd)
}

func runTrustList(_ *cobra.Command, _ []string) error {
	a, err := buildApp("", "")
	if err != nil {
		return err
	}
	defer a.close()

	keys, err := a.store.List()
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		fmt.Println("No trusted keys.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "KEY ID\tFILE\tSOURCE\tADDED")
	for _, key := range keys {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			key.ID,
			key.Filename,
			key.Source,
			key.AddedAt.Format("2006-01-02"),
		)
	}
	_ = w.Flush()

	fmt.Printf("\nTotal: %d keys\n", len(keys))
	return nil
}

func runTrustAdd(cmd *cobra.Command, args []string) error {
	a, err := buildApp("", "")
	if err != nil {
		return err
	}
	defer a.close()

	keyData, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading key file: %w", err)
	}

	source := trust.KeySource(trustKeySource)
	switch source {
	case trust.SourceDefault, trust.SourceOrganization, trust.SourceUser:
	default:
		return fmt.Errorf("unknown key source %q", trustKeySource)
	}

	name := trustKeyName
	if name == "" {
		base := filepath.Base(args[0])
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	key, err := a.store.Add(keyData, name, source)
	if err != nil {
		return err
	}

	_ = a.auditSvc.LogKeyAdded(cmd.Context(), key.ID, key.Filename)

	fmt.Printf("Added key %s as %s\n", key.ID, key.Filename)
	return nil
}

func runTrustRemove(cmd *cobra.Command, args []string) error {
	a, err := buildApp("", "")
	if err != nil {
		return err
	}
	defer a.close()

	key, ok := a.store.Get(args[0])
	if !ok {
		return fmt.Errorf("no trusted key matches %q", args[0])
	}
	if err := a.store.Remove(args[0]); err != nil {
		return err
	}

	_ = a.auditSvc.LogKeyRemoved(cmd.Context(), key.ID)

	fmt.Printf("Removed key %s\n", key.ID)
	return nil
}

func runTrustShow(_ *cobra.Command, args []string) error {
	a, err := buildApp("", "")
	if err != nil {
		return err
	}
	defer a.close()

	key, ok := a.store.Get(args[0])
	if !ok {
		return fmt.Errorf("no trusted key matches %q", args[0])
	}

	fmt.Printf("Key ID:      %s\n", key.ID)
	fmt.Printf("File:        %s\n", key.Filename)
	fmt.Printf("Source:      %s\n", key.Source)
	fmt.Printf("Added:       %s\n", key.AddedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Fingerprint: %s\n", key.Fingerprint())
	fmt.Printf("\n%s", key.PEM)
	return nil
}
