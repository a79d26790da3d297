package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate an ECDSA P-256 signing key pair",
	Long: `Generate a signing key pair and write both halves as PEM files.

The private key signs manifests with 'enact sign'; the public key is
what teammates add to their trust stores.

Examples:
  enact keygen --out ~/.enact/signing-key
  enact keygen --out release-key --trust`,
	RunE: runKeygen,
}

var (
	keygenOut   string
	keygenTrust bool
)

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "signing-key", "output path prefix (<out>.pem and <out>.pub.pem)")
	keygenCmd.Flags().BoolVar(&keygenTrust, "trust", false, "add the public key to the trust store")

	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, _ []string) error {
	key, err := trust.GenerateKey()
	if err != nil {
		return err
	}

	privPEM, err := trust.EncodePrivateKeyPEM(key)
	if err != nil {
		return err
	}
	pubPEM, err := trust.EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return err
	}

	privPath := keygenOut + ".pem"
	pubPath := keygenOut + ".pub.pem"

	if err := os.MkdirAll(filepath.Dir(privPath), 0o700); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}

	fmt.Printf("Private key: %s\n", privPath)
	fmt.Printf("Public key:  %s\n", pubPath)

	if keygenTrust {
		a, err := buildApp("", "")
		if err != nil {
			return err
		}
		defer a.close()

		added, err := a.store.Add(pubPEM, filepath.Base(keygenOut), trust.SourceUser)
		if err != nil {
			return err
		}
		_ = a.auditSvc.LogKeyAdded(cmd.Context(), added.ID, added.Filename)
		fmt.Printf("Trusted key: %s\n", added.ID)
	}
	return nil
}
