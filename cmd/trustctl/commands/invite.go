package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/node"
	"github.com/backkem/trustlink/pkg/pairing"
)

func inviteCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Generate a pairing invite code for this device",
		Long: "Generate a pairing invite code. The invite is recorded in the device store;\n" +
			"the pairing exchange itself is answered by the process serving the device.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireConfig(); err != nil {
				return err
			}
			id, err := loadIdentity()
			if err != nil {
				return err
			}
			defer id.Destroy()

			st, err := cfg.OpenStore(loggerFactory)
			if err != nil {
				return err
			}
			defer st.Close()

			discard := node.SenderFunc(func(context.Context, string, []byte) error { return nil })
			dc, err := cfg.DeviceConfig(id, st, discard, consent.Static(consent.Deny()), loggerFactory)
			if err != nil {
				return err
			}
			dc.Advertiser = nil
			device, err := node.NewDevice(dc)
			if err != nil {
				return err
			}
			defer device.Close()

			inv, code, err := device.GenerateInvite(cmd.Context(), ttl)
			if err != nil {
				return err
			}
			fmt.Printf("Invite code: %s\n", code)
			printInvite(inv)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "invite lifetime (default from config)")
	return cmd
}

func inspectInviteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect-invite CODE",
		Short: "Decode an invite code without contacting the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, _, err := pairing.ParseInviteCode(args[0])
			if err != nil {
				return err
			}
			printInvite(inv)
			if inv.Expired(time.Now()) {
				fmt.Println("Status: expired")
			}
			return nil
		},
	}
}

func printInvite(inv *pairing.Invite) {
	fmt.Printf("Device: %s (%s)\n", inv.DeviceID, inv.DeviceID.Short())
	if inv.Label != "" {
		fmt.Printf("Label: %s\n", inv.Label)
	}
	fmt.Printf("Expires: %s\n", inv.ExpiresAt.Format(time.RFC3339))
	for _, c := range inv.Transports {
		fmt.Printf("Transport: %s %s\n", c.Kind, c.Address)
	}
}
