package cmd

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/teemow/teamsmcp/internal/auth"
)

func newCleanupCmd() *cobra.Command {
	var (
		credentialsDir string
		user           string
		all            bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove dead credentials from the local store",
		Long: `Scan the local credential store and remove records that can no longer be
used: expired credentials without a refresh token. These accumulate when a
user's consent is revoked or an application registration changes.

Use --user to remove one user's credential regardless of its state, or
--all to wipe the store entirely.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if credentialsDir == "" {
				credentialsDir = os.Getenv("TEAMSMCP_CREDENTIALS_DIR")
			}
			if credentialsDir == "" {
				credentialsDir = auth.DefaultCredentialsDir()
			}

			logger := slog.New(slog.NewTextHandler(io.Discard, nil))
			store, err := auth.NewFileStore(credentialsDir, logger)
			if err != nil {
				return fmt.Errorf("failed to open credential store: %w", err)
			}

			if user != "" {
				if err := store.Delete(user); err != nil {
					return fmt.Errorf("failed to remove credential for %s: %w", user, err)
				}
				log.Printf("Removed credential for %s", user)
				return nil
			}

			creds, err := store.ListAll()
			if err != nil {
				return fmt.Errorf("failed to list credentials: %w", err)
			}

			now := time.Now()
			removed := 0
			for _, cred := range creds {
				dead := cred.Expired(now) && cred.RefreshToken == ""
				if !all && !dead {
					continue
				}
				if err := store.Delete(cred.UserIdentity); err != nil {
					return fmt.Errorf("failed to remove credential for %s: %w", cred.UserIdentity, err)
				}
				log.Printf("Removed credential for %s", cred.UserIdentity)
				removed++
			}

			log.Printf("Scanned %d credential(s), removed %d", len(creds), removed)
			return nil
		},
	}

	cmd.Flags().StringVar(&credentialsDir, "credentials-dir", "", "Directory for stored user credentials. Can also use TEAMSMCP_CREDENTIALS_DIR env var.")
	cmd.Flags().StringVar(&user, "user", "", "Remove the credential for this user only")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every stored credential")
	return cmd
}
