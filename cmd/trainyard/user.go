package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/trainyard/pkg/scheduler"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users",
}

var userListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		users, err := newClient(cmd).ListUsers(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSERNAME\tEMAIL\tWALLET")
		for _, u := range users {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", u.ID, u.Username, u.Email, u.WalletAddress)
		}
		return w.Flush()
	},
}

var userCreateCmd = &cobra.Command{
	Use:   "create USERNAME",
	Short: "Create a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		wallet, _ := cmd.Flags().GetString("wallet")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		u, err := newClient(cmd).CreateUser(ctx, scheduler.CreateUserRequest{
			Email:         email,
			Username:      args[0],
			WalletAddress: wallet,
		})
		if err != nil {
			return err
		}
		fmt.Printf("✓ User created: %s (ID: %s)\n", u.Username, u.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{userListCmd, userCreateCmd} {
		addAPIFlag(c)
		userCmd.AddCommand(c)
	}
	userCreateCmd.Flags().String("email", "", "Email address (required)")
	userCreateCmd.Flags().String("wallet", "", "Wallet address (required)")
	_ = userCreateCmd.MarkFlagRequired("email")
	_ = userCreateCmd.MarkFlagRequired("wallet")

	rootCmd.AddCommand(userCmd)
}
