package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/vacationd/internal/config"
	"github.com/joshsymonds/vacationd/internal/imapmail"
	"github.com/joshsymonds/vacationd/internal/runtime"
)

func newAuthCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize mailbox access and store the credential",
		Long: "For the api backend, runs the OAuth consent flow and stores the token in the OS keyring " +
			"(or --token-file). For the imap backend, reads an app password from stdin into the keyring.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			if cfg.Backend == config.BackendIMAP {
				return storeAppPassword(cmd, cfg.IMAP.Username)
			}

			oauthCfg, err := runtime.LoadOAuthConfig(cfg.CredentialsFile)
			if err != nil {
				return err
			}
			tok, err := runtime.Authorize(cmd.Context(), oauthCfg, cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("authorize: %w", err)
			}
			if err := runtime.NewTokenStore(cfg.TokenFile, "default").Save(tok); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Authorization saved.")
			return nil
		},
	}
}

func storeAppPassword(cmd *cobra.Command, username string) error {
	fmt.Fprintf(cmd.OutOrStdout(), "App password for %s: ", username)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return fmt.Errorf("read app password: %w", err)
	}
	password := strings.ReplaceAll(strings.TrimSpace(line), " ", "")
	if password == "" {
		return errors.New("empty app password")
	}
	if err := imapmail.StorePassword(username, password); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "App password saved to the keyring.")
	return nil
}
