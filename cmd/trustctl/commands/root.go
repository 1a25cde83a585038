package commands

import (
	"fmt"
	"os"

	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/backkem/trustlink/pkg/config"
	"github.com/backkem/trustlink/pkg/identity"
)

var (
	configPath string
	keystore   string
	passphrase string
	verbose    bool

	cfg           *config.File
	loggerFactory *logging.DefaultLoggerFactory
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "trustctl",
		Short:         "Trust establishment and session authorization for remote control",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loggerFactory = logging.NewDefaultLoggerFactory()
			if verbose {
				loggerFactory.DefaultLogLevel = logging.LogLevelDebug
			}
			if configPath == "" {
				return nil
			}
			f, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = f
			if keystore == "" {
				keystore = f.Identity.Keystore
			}
			if passphrase == "" {
				passphrase = f.Passphrase()
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&keystore, "keystore", "", "sealed identity file (overrides config)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "keystore passphrase (default from $"+config.DefaultPassphraseEnv+")")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(keygenCmd(), idCmd(), inviteCmd(), inspectInviteCmd(), policyCmd(), demoCmd())
	return root.Execute()
}

func resolvePassphrase() (string, error) {
	if passphrase == "" {
		passphrase = os.Getenv(config.DefaultPassphraseEnv)
	}
	if passphrase == "" {
		return "", fmt.Errorf("passphrase required (-p or $%s)", config.DefaultPassphraseEnv)
	}
	return passphrase, nil
}

func loadIdentity() (*identity.Identity, error) {
	if keystore == "" {
		return nil, fmt.Errorf("keystore required (--keystore or --config)")
	}
	pass, err := resolvePassphrase()
	if err != nil {
		return nil, err
	}
	return identity.LoadFile(keystore, pass)
}

func requireConfig() error {
	if cfg == nil {
		return fmt.Errorf("configuration required (--config)")
	}
	return nil
}
