package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

var signCmd = &cobra.Command{
	Use:   "sign <manifest>",
	Short: "Sign a tool manifest",
	Long: `Sign a manifest's canonical form with an ECDSA P-256 private key
and write the signature back into the file.

Signing covers only the security-critical fields, so cosmetic edits
like tags or examples do not invalidate existing signatures.

Examples:
  enact sign greet.yaml --key ~/.enact/signing-key.pem --signer alice@acme.dev
  enact sign greet.yaml --key review-key.pem --signer bob@acme.dev --role reviewer`,
	Args: cobra.ExactArgs(1),
	RunE: runSign,
}

var (
	signKeyFile string
	signSigner  string
	signRole    string
)

func init() {
	signCmd.Flags().StringVar(&signKeyFile, "key", "", "private key PEM file (required)")
	signCmd.Flags().StringVar(&signSigner, "signer", "", "signer identity, e.g. an email address (required)")
	signCmd.Flags().StringVar(&signRole, "role", trust.RoleAuthor, "signing role (author, reviewer, approver)")
	_ = signCmd.MarkFlagRequired("key")
	_ = signCmd.MarkFlagRequired("signer")

	rootCmd.AddCommand(signCmd)
}

func runSign(cmd *cobra.Command, args []string) error {
	manifestPath := args[0]

	keyData, err := os.ReadFile(signKeyFile)
	if err != nil {
		return fmt.Errorf("reading private key: %w", err)
	}
	key, err := trust.ParsePrivateKeyPEM(keyData)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("reading manifest: %w", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return err
	}

	if err := trust.Sign(m, key, trust.Identity{ID: signSigner, Role: signRole}); err != nil {
		return err
	}

	out, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("serializing manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, out, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	a, err := buildApp("", "")
	if err == nil {
		_ = a.auditSvc.LogSigned(cmd.Context(), m.Name, signSigner, signRole)
		a.close()
	}

	fmt.Printf("Signed %s as %s (%s)\n", m.Name, signSigner, signRole)
	fmt.Printf("Signatures: %d\n", len(m.Signatures))
	return nil
}
