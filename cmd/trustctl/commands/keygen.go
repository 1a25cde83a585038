package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backkem/trustlink/pkg/identity"
)

func keygenCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an identity and seal it with a passphrase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keystore == "" {
				return fmt.Errorf("keystore required (--keystore or --config)")
			}
			if _, err := os.Stat(keystore); err == nil && !force {
				return fmt.Errorf("%s exists (use --force to overwrite)", keystore)
			}
			pass, err := resolvePassphrase()
			if err != nil {
				return err
			}
			id, err := identity.Generate()
			if err != nil {
				return err
			}
			defer id.Destroy()
			if err := identity.SaveFile(keystore, id, pass, identity.DefaultScryptParams); err != nil {
				return err
			}
			fmt.Printf("Identity created.\nID: %s\nFingerprint: %s\n", id.ID(), id.ID().Short())
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keystore")
	return cmd
}

func idCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print the identity id and fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			defer id.Destroy()
			fmt.Printf("ID: %s\nFingerprint: %s\n", id.ID(), id.ID().Short())
			return nil
		},
	}
}
