package commands

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"github.com/tendergraph-io/node/crypto"
)

var keyfilePath string

// NewKeygenCmd produces the command that creates a new validator keypair.
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new validator key pair",
		RunE:  keygen,
	}
	cmd.Flags().StringVar(&keyfilePath, "priv", cliConfig.Keyfile(), "File where the private key will be written")
	return cmd
}

func keygen(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(keyfilePath); err == nil {
		return fmt.Errorf("a key already lives under %s", path.Dir(keyfilePath))
	}

	pub, priv, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating key: %s", err)
	}

	if err := os.MkdirAll(path.Dir(keyfilePath), 0700); err != nil {
		return fmt.Errorf("creating datadir: %s", err)
	}

	if err := crypto.NewKeyFile(keyfilePath).WriteKey(priv); err != nil {
		return fmt.Errorf("writing private key: %s", err)
	}

	fmt.Printf("Your private key has been saved to: %s\n", keyfilePath)
	fmt.Printf("Your public key is: 0x%X\n", []byte(pub))

	return nil
}
