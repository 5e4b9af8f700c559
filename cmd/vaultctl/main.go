// Command vaultctl calls the vault API. Mutating requests are signed with an
// Ethereum private key taken from --key or VAULT_PRIVATE_KEY.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vaultctl:", err)
		os.Exit(1)
	}
}
