package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manash/maskopt/internal/keys"
)

func newTokenCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage per-server auth tokens",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <server> <token>",
		Short: "Store a token for a server",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTokenSet(app, args[0], args[1])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "remove <server>",
		Aliases: []string{"rm"},
		Short:   "Delete the stored token for a server",
		Args:    cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runTokenRemove(app, args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List servers with stored tokens",
		Args:    cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runTokenList(app)
		},
	})

	return cmd
}

func runTokenSet(app *App, server, token string) error {
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}
	if err := store.Set(server, token); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	fmt.Fprintf(app.Out, "Token for %s saved (%s)\n", keys.ServerKey(server), keys.MaskToken(token))
	return nil
}

func runTokenRemove(app *App, server string) error {
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}
	if err := store.Delete(server); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Token for %s removed\n", keys.ServerKey(server))
	return nil
}

func runTokenList(app *App) error {
	store, err := app.NewTokenStore()
	if err != nil {
		return err
	}
	servers, err := store.List()
	if err != nil {
		return err
	}
	if len(servers) == 0 {
		fmt.Fprintln(app.Out, "No stored tokens.")
		return nil
	}

	for _, server := range servers {
		token, err := store.Get(server)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%-32s %s\n", server, keys.MaskToken(token))
	}
	return nil
}
