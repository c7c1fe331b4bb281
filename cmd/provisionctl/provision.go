package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
	"github.com/doodlesbykumbi/profile-provisioner/pkg/provisioner"
)

// provisionCmd represents the provision command
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a single login",
	Long: `Run the provisioning pipeline once for a login, exactly as the login hook
would, and print the outcome.

The user file holds the identity as the identity provider reports it. The
context file holds the login context (connection, connectionStrategy and, for
linked accounts, primaryUser and primaryUserMetadata). Without a context file
the strategy of the user's first linked identity is used.

Example:
  provisionctl provision --user user.json
  provisionctl provision --user user.json --context context.json`,
	Run: func(cmd *cobra.Command, args []string) {
		userPath, _ := cmd.Flags().GetString("user")
		contextPath, _ := cmd.Flags().GetString("context")

		outcome, err := provisionLogin(cmd.Context(), userPath, contextPath)
		fmt.Println("Outcome:", outcome)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Provisioning failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
	provisionCmd.Flags().StringP("user", "u", "", "path to the user JSON")
	provisionCmd.Flags().StringP("context", "c", "", "path to the login context JSON")
	_ = provisionCmd.MarkFlagRequired("user")
}

func provisionLogin(ctx context.Context, userPath, contextPath string) (provisioner.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	user, login, err := loadLogin(userPath, contextPath)
	if err != nil {
		return provisioner.OutcomeFailed, err
	}

	cfg, err := config.Load()
	if err != nil {
		return provisioner.OutcomeDisabled, fmt.Errorf("failed to load configuration: %w", err)
	}
	tracker, closeTracker, err := openTracker(ctx, cfg)
	if err != nil {
		return provisioner.OutcomeFailed, err
	}
	defer func() { _ = closeTracker() }()

	p := provisioner.New(cfg,
		provisioner.WithTracker(tracker),
		provisioner.WithLogger(newLogger(cfg)),
	)
	return p.Provision(ctx, user, login)
}

// loadLogin reads a user and an optional login context from JSON files.
func loadLogin(userPath, contextPath string) (identity.User, identity.Context, error) {
	var user identity.User
	var login identity.Context

	if err := readJSON(userPath, &user); err != nil {
		return user, login, err
	}
	if user.UserID == "" {
		return user, login, fmt.Errorf("%s: user_id is required", userPath)
	}

	if contextPath != "" {
		if err := readJSON(contextPath, &login); err != nil {
			return user, login, err
		}
	} else if len(user.Identities) > 0 {
		login.Connection = user.Identities[0].Connection
		login.ConnectionStrategy = user.Identities[0].Provider
	}
	return user, login, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
