package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/audit"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/signing"
)

// keyCmd represents the key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the attribute signing key",
	Long:  `Manage the attribute signing key`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("error: Command 'key' requires a subcommand generate")
		fmt.Println()
		_ = cmd.Help()
		os.Exit(1)
	},
}

// keyGenerateCmd represents the key > generate command
var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate an attribute signing key",
	Long: `
Generate an attribute signing key

Use this command to generate a new 2048-bit RSA key in its configured form,
base64 of the PEM. Once generated, place it into the environment of the
provisioner. Use --public to also write the PEM public key that profile
consumers verify signatures with.

Example:

$ export PROVISIONER_SIGNING_KEY="$(provisionctl key generate --public signing.pub)"
`,
	Run: func(cmd *cobra.Command, args []string) {
		key, err := signing.GenerateKey()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate key: %v\n", err)
			os.Exit(1)
		}

		if publicPath, _ := cmd.Flags().GetString("public"); publicPath != "" {
			if err := os.WriteFile(publicPath, key.PublicPem(), 0o644); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write public key: %v\n", err)
				os.Exit(1)
			}
		}

		// Keep stdout for the key itself
		audit.DefaultLogger.SetWriter(os.Stderr)
		audit.Log(audit.KeyEvent{Fingerprint: key.Fingerprint(), Operation: "generate"})
		fmt.Fprintf(os.Stderr, "Fingerprint: %s\n", key.Fingerprint())
		fmt.Printf("%s", key.Encoded())
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenerateCmd)
	keyGenerateCmd.Flags().String("public", "", "write the PEM public key to this file")
}
