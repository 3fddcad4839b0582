package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terminalnexus/tnchat/internal/api"
)

func newLoginCmd() *cobra.Command {
	var (
		register bool
		guest    bool
		password string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an access token",
		Long: `Obtain an access token from the broker and print it.

Use the token with --token or by exporting TNCHAT_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := api.New(cfg.APIBase, "")
			ctx := cmd.Context()

			var token string
			switch {
			case guest:
				token, err = client.Guest(ctx)
			default:
				if cfg.Nickname == "" {
					return errors.New("--nickname is required unless --guest is set")
				}
				if password == "" {
					fmt.Fprint(cmd.ErrOrStderr(), "password: ")
					line, readErr := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
					if readErr != nil && line == "" {
						return fmt.Errorf("read password: %w", readErr)
					}
					password = strings.TrimRight(line, "\r\n")
				}
				if register {
					token, err = client.Register(ctx, cfg.Nickname, password)
				} else {
					token, err = client.Login(ctx, cfg.Nickname, password)
				}
			}
			if err != nil {
				return err
			}

			me, err := client.WithToken(token).Me(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "signed in as %s\n", me.Username)
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().BoolVar(&register, "register", false, "create the account first")
	cmd.Flags().BoolVar(&guest, "guest", false, "request a guest identity")
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	cmd.MarkFlagsMutuallyExclusive("register", "guest")
	return cmd
}
