// trustctl manages trustlink identities, invites and policy, and runs an
// in-process pairing and session demo.
//
// Usage:
//
//	trustctl keygen --keystore identity.key -p secret
//	trustctl id --keystore identity.key -p secret
//	trustctl invite --config device.yaml
//	trustctl inspect-invite TL:...
//	trustctl policy check --config device.yaml --operator <id> --requested VIEW
//	trustctl demo
package main

import (
	"fmt"
	"os"

	"github.com/backkem/trustlink/cmd/trustctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
