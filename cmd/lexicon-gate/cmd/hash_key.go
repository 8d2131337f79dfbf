package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/domain/auth"
)

var useArgon2id bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Hash an admin API key for the config file",
	Long: `Hash an admin API key for the admin.api_key_hash config field.

The default output is "sha256:<hex>". With --argon2id the output is an
argon2id PHC string, which resists offline brute force of weak keys at
the cost of slower verification.

Example:
  lexicon-gate hash-key "my-secret-admin-key"
  # Output: sha256:7d5e8c...

Security note: the key will appear in shell history. Consider using an
environment variable:
  lexicon-gate hash-key "$LEXICON_ADMIN_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if useArgon2id {
			hash, err := auth.HashKeyArgon2id(args[0])
			if err != nil {
				return fmt.Errorf("hash key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Println(auth.HashKey(args[0]))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&useArgon2id, "argon2id", false, "produce an argon2id PHC hash instead of sha256")
	rootCmd.AddCommand(hashKeyCmd)
}
