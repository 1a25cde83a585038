package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/backkem/trustlink/pkg/acl"
	"github.com/backkem/trustlink/pkg/audit"
	"github.com/backkem/trustlink/pkg/consent"
	"github.com/backkem/trustlink/pkg/identity"
	"github.com/backkem/trustlink/pkg/node"
	"github.com/backkem/trustlink/pkg/pairing"
	"github.com/backkem/trustlink/pkg/policy"
	"github.com/backkem/trustlink/pkg/session"
	"github.com/backkem/trustlink/pkg/store"
	"github.com/backkem/trustlink/pkg/transport"
)

const (
	demoDeviceAddr   = "pipe:device"
	demoOperatorAddr = "pipe:operator"
)

func demoCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Pair and run a session between an in-process device and operator",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			return runDemo(ctx)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall time limit")
	return cmd
}

func runDemo(ctx context.Context) error {
	deviceID, err := identity.Generate()
	if err != nil {
		return err
	}
	defer deviceID.Destroy()
	operatorID, err := identity.Generate()
	if err != nil {
		return err
	}
	defer operatorID.Destroy()

	fmt.Println("=========================================")
	fmt.Printf("  Device:   %s\n", deviceID.ID().Short())
	fmt.Printf("  Operator: %s\n", operatorID.ID().Short())
	fmt.Println("=========================================")

	pipe := transport.NewPipe()
	defer pipe.Close()
	deviceLink, operatorLink := pipe.Links()

	engine, err := policy.NewEngine(policy.Config{Mode: policy.ModeAlwaysAsk})
	if err != nil {
		return err
	}

	auditLog := logrus.New()
	auditLog.SetOutput(os.Stdout)
	auditLog.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})

	device, err := node.NewDevice(node.DeviceConfig{
		Identity: deviceID,
		Store:    store.NewMemoryStore(),
		Sender:   node.LinkSender{Link: deviceLink},
		Policy:   engine,
		Consent: consent.HandlerFunc(func(ctx context.Context, req consent.Request) (consent.Decision, error) {
			fmt.Printf("[device] %s consent for %s (%s): approved\n", req.Kind, req.OperatorID.Short(), req.Permissions)
			return consent.Approve(acl.PermNone), nil
		}),
		AuditSink: audit.NewLogrusSink(auditLog),
		Negotiator: transport.NewNegotiator(transport.NegotiatorConfig{
			Local:         []transport.Candidate{{Kind: transport.KindDirect, Address: demoDeviceAddr}},
			LoggerFactory: loggerFactory,
		}),
		Label:         "demo-device",
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}
	defer device.Close()

	operator, err := node.NewOperator(node.OperatorConfig{
		Identity: operatorID,
		Store:    store.NewMemoryStore(),
		Sender:   node.LinkSender{Link: operatorLink},
		SAS: node.SASHandlerFunc(func(ctx context.Context, device identity.ID, sas string) (bool, error) {
			fmt.Printf("[operator] SAS for %s: %s (confirmed)\n", device.Short(), sas)
			return true, nil
		}),
		Label:         "demo-operator",
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return err
	}
	defer operator.Close()

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	go func() { _ = node.Serve(serveCtx, deviceLink, demoOperatorAddr, device) }()
	go func() { _ = node.Serve(serveCtx, operatorLink, demoDeviceAddr, operator) }()
	go func() { _ = device.Run(serveCtx, 0) }()
	go func() { _ = operator.Run(serveCtx, 0) }()

	_, code, err := device.GenerateInvite(ctx, 0)
	if err != nil {
		return err
	}
	fmt.Printf("[device] invite: %s\n", code)

	pc, err := operator.Pair(ctx, demoDeviceAddr, code, acl.PermView|acl.PermControl)
	if err != nil {
		return err
	}
	if err := waitFor(ctx, "pairing", func() (bool, error) {
		switch pc.State() {
		case pairing.ControllerPaired:
			return true, nil
		case pairing.ControllerFailed:
			return false, pc.Err()
		}
		return false, nil
	}); err != nil {
		return err
	}
	fmt.Printf("[operator] paired with %s\n", deviceID.ID().Short())

	sc, err := operator.StartSession(ctx, demoDeviceAddr, deviceID.ID(), acl.PermView)
	if err != nil {
		return err
	}
	if err := waitFor(ctx, "session ticket", func() (bool, error) {
		switch sc.State() {
		case session.StateTicketReceived:
			return true, nil
		case session.StateEnded:
			return false, sc.Err()
		}
		return false, nil
	}); err != nil {
		return err
	}
	sid := sc.SessionID()
	fmt.Printf("[operator] ticket %s valid until %s\n", sc.Ticket().TicketID, sc.Ticket().ExpiresAt.Format(time.RFC3339))

	cand, err := operator.Connect(sid)
	if err != nil {
		return err
	}
	fmt.Printf("[operator] connecting via %s %s\n", cand.Kind, cand.Address)
	if err := operator.TransportConnected(ctx, sid); err != nil {
		return err
	}
	if err := device.TransportConnected(ctx, sid); err != nil {
		return err
	}

	host, ok := device.Session(sid)
	if !ok {
		return fmt.Errorf("device lost session %s", sid)
	}
	msg, err := sc.Seal(session.ChannelFrames, []byte("hello from the operator"))
	if err != nil {
		return err
	}
	plain, err := host.Open(msg)
	if err != nil {
		return err
	}
	fmt.Printf("[device] frames channel: %q\n", plain)

	if err := operator.EndSession(ctx, sid, "demo finished"); err != nil {
		return err
	}
	if err := waitFor(ctx, "session end", func() (bool, error) {
		return device.SessionCount() == 0, nil
	}); err != nil {
		return err
	}
	fmt.Println("[device] session ended")
	return nil
}

// waitFor polls cond until it reports done, fails, or ctx ends.
func waitFor(ctx context.Context, what string, cond func() (bool, error)) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		done, err := cond()
		if err != nil {
			return fmt.Errorf("%s: %w", what, err)
		}
		if done {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", what, ctx.Err())
		case <-ticker.C:
		}
	}
}
