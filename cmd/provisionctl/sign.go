package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/profile"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

// signCmd represents the sign command
var signCmd = &cobra.Command{
	Use:   "sign <profile.json>",
	Short: "Sign the attributes of a profile",
	Long: `Sign every attribute of a profile document that names the configured
publisher and carries a value, then print the signed profile.

The signing key and publisher come from the configuration.

Example:
  provisionctl sign profile.json > signed.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		signer, err := configuredSigner()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read profile: %v\n", err)
			os.Exit(1)
		}

		signed, count, err := signProfile(data, signer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to sign profile: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Signed %d attribute(s)\n", count)
		fmt.Println(string(signed))
	},
}

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify <profile.json>",
	Short: "Verify the signatures of a profile",
	Long: `Verify every attribute of a profile document signed by the configured
publisher against the configured key.

Example:
  provisionctl verify signed.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		signer, err := configuredSigner()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read profile: %v\n", err)
			os.Exit(1)
		}

		count, err := verifyProfile(data, signer)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verification failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Verified %d attribute(s)\n", count)
	},
}

func init() {
	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifyCmd)
}

func configuredSigner() (*signing.Signer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cfg.SigningKey == "" {
		return nil, fmt.Errorf("signing_key is not configured (set %s)", config.EnvName("signing_key"))
	}
	key, err := signing.DecodeKey(cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing_key: %w", err)
	}

	publisher := cfg.Publisher
	if publisher == "" {
		publisher = config.DefaultPublisher
	}
	return signing.NewSigner(key, publisher), nil
}

func signProfile(data []byte, signer *signing.Signer) ([]byte, int, error) {
	p, err := profile.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	count, err := signer.SignAll(p)
	if err != nil {
		return nil, count, err
	}
	out, err := json.MarshalIndent(p, "", "  ")
	return out, count, err
}

func verifyProfile(data []byte, signer *signing.Signer) (int, error) {
	p, err := profile.Parse(data)
	if err != nil {
		return 0, err
	}
	return signer.VerifyAll(p)
}
