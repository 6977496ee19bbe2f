package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"snapcart/internal/config"
	"snapcart/internal/store"
)

func newAccountsCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage stored accounts",
	}
	cmd.AddCommand(newAccountsListCmd(configPath), newAccountsAddCmd(configPath), newAccountsRemoveCmd(configPath))
	return cmd
}

func openStore(configPath string) (*store.FileStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return store.NewFileStore(cfg.DataDir)
}

func newAccountsListCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			accounts, err := st.Accounts()
			if err != nil {
				return err
			}
			if len(accounts) == 0 {
				fmt.Println("no accounts stored")
				return nil
			}
			for _, a := range accounts {
				marker := " "
				if a.IsDefault {
					marker = "*"
				}
				profile := "no payment profile"
				if _, err := st.PaymentProfile(a.ID); err == nil {
					profile = "payment profile set"
				}
				fmt.Printf("%s %-24s orders=%d  %s\n", marker, a.ID, a.OrderCount, profile)
			}
			return nil
		},
	}
}

func newAccountsAddCmd(configPath *string) *cobra.Command {
	var secret string
	var isDefault bool

	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add or update an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			return st.SaveAccount(store.Account{
				ID:        args[0],
				Secret:    secret,
				IsDefault: isDefault,
			})
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "account password")
	cmd.Flags().BoolVar(&isDefault, "default", false, "use this account in single-account mode")
	return cmd
}

func newAccountsRemoveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(*configPath)
			if err != nil {
				return err
			}
			return st.DeleteAccount(args[0])
		},
	}
}
