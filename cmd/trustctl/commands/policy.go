package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/policy"
)

func policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect the configured access policy",
	}
	cmd.AddCommand(policyCheckCmd())
	return cmd
}

func policyCheckCmd() *cobra.Command {
	var (
		operator  string
		paired    string
		requested string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate a session request against the policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}
			pc, err := cfg.PolicyConfig()
			if err != nil {
				return err
			}
			engine, err := policy.NewEngine(pc)
			if err != nil {
				return err
			}

			opID, err := identity.ParseID(operator)
			if err != nil {
				return fmt.Errorf("operator: %w", err)
			}
			pairedPerms, err := acl.ParsePermissions(paired)
			if err != nil {
				return err
			}
			reqPerms, err := acl.ParsePermissions(requested)
			if err != nil {
				return err
			}
			now := time.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("at: %w", err)
				}
			}

			fmt.Printf("Mode: %s\n", engine.Mode())
			fmt.Printf("Trusted: %t\n", engine.IsTrusted(opID))
			if err := engine.CheckTimeRestrictions(now); err != nil {
				fmt.Printf("Time: denied (%v)\n", err)
			} else {
				fmt.Println("Time: allowed")
			}
			granted, err := engine.ValidatePermissions(reqPerms, pairedPerms)
			if err != nil {
				fmt.Printf("Permissions: denied (%v)\n", err)
				return nil
			}
			fmt.Printf("Permissions: %s\n", granted)
			fmt.Printf("Consent required: %t\n", engine.RequiresConsent(opID, pairedPerms))
			return nil
		},
	}
	cmd.Flags().StringVar(&operator, "operator", "", "operator id")
	cmd.Flags().StringVar(&paired, "paired", "ALL", "permissions granted at pairing")
	cmd.Flags().StringVar(&requested, "requested", "VIEW", "permissions requested for the session")
	cmd.Flags().StringVar(&at, "at", "", "evaluation time (RFC 3339, default now)")
	_ = cmd.MarkFlagRequired("operator")
	return cmd
}
