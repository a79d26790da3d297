package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/enactprotocol/enact-go/internal/domain/manifest"
	"github.com/enactprotocol/enact-go/internal/domain/trust"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <tool-name|manifest-file>",
	Short: "Verify a manifest's signatures",
	Long: `Verify a manifest's signatures against the trust store without
executing anything.

Examples:
  enact verify greet.yaml
  enact verify acme/tools/greet --policy enterprise`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

var verifyPolicy string

func init() {
	verifyCmd.Flags().StringVar(&verifyPolicy, "policy", "", "verification policy (permissive, enterprise, paranoid)")

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := buildApp(verifyPolicy, "")
	if err != nil {
		return err
	}
	defer a.close()

	target := args[0]
	var result trust.VerificationResult
	var toolName string

	if isManifestPath(target) {
		data, err := os.ReadFile(target)
		if err != nil {
			return fmt.Errorf("reading manifest: %w", err)
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return err
		}
		toolName = m.Name
		result = a.verifier.Verify(m, a.policy)
	} else {
		toolName = target
		result, err = a.api.VerifyTool(target, verifyPolicy)
		if err != nil {
			return err
		}
	}

	_ = a.auditSvc.LogVerification(cmd.Context(), toolName, result.Policy, result.IsValid, result.Message)

	if jsonOut {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	} else {
		fmt.Printf("Tool:       %s\n", toolName)
		fmt.Printf("Policy:     %s\n", result.Policy)
		fmt.Printf("Signatures: %d valid of %d\n", result.ValidSignatures, result.TotalSignatures)
		for _, signer := range result.VerifiedSigners {
			role := signer.Role
			if role == "" {
				role = "-"
			}
			fmt.Printf("  %s (%s) key %s\n", signer.Signer, role, signer.KeyID)
		}
		for _, sigErr := range result.Errors {
			fmt.Printf("  rejected: %s\n", sigErr.Reason)
		}
		fmt.Printf("Result:     %s\n", result.Message)
	}

	if !result.IsValid {
		return fmt.Errorf("verification failed")
	}
	return nil
}
