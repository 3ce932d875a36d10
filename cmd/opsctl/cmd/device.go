package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/backoffice/internal/app"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Device authorization registry",
}

var authorizeSeller int64

var deviceAuthorizeCmd = &cobra.Command{
	Use:   "authorize <fingerprint>",
	Short: "Authorize (and reactivate) a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var seller *int64
		if cmd.Flags().Changed("seller") {
			seller = &authorizeSeller
		}
		return withApp(cmd.Context(), func(a *app.App) error {
			device, err := a.Registry.Authorize(cmd.Context(), args[0], seller)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), device)
		})
	},
}

var deviceRevokeCmd = &cobra.Command{
	Use:   "revoke <fingerprint>",
	Short: "Revoke a device's authorization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Registry.Revoke(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
			return nil
		})
	},
}

var deviceDeactivateCmd = &cobra.Command{
	Use:   "deactivate <fingerprint>",
	Short: "Deactivate a retired device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			if err := a.Registry.Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deactivated %s\n", args[0])
			return nil
		})
	},
}

var deviceShowCmd = &cobra.Command{
	Use:   "show <fingerprint>",
	Short: "Show a device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app.App) error {
			device, err := a.Registry.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), device)
		})
	},
}

func init() {
	deviceAuthorizeCmd.Flags().Int64Var(&authorizeSeller, "seller", 0, "owning seller id")

	deviceCmd.AddCommand(deviceAuthorizeCmd, deviceRevokeCmd, deviceDeactivateCmd, deviceShowCmd)
}
