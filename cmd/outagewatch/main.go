// Command outagewatch runs the residential power-outage monitoring hub.
// Grounded on beszel's cmd/hub/hub.go entry point shape: a pocketbase app
// with a version-stamped root command plus operator subcommands.
package main

import (
	"fmt"
	"os"
	"time"

	outagewatch "github.com/outagewatch/hub"
	"github.com/outagewatch/hub/internal/adminauth"
	"github.com/outagewatch/hub/internal/clock"
	"github.com/outagewatch/hub/internal/config"
	"github.com/outagewatch/hub/internal/freeze"
	"github.com/outagewatch/hub/internal/hub"
	_ "github.com/outagewatch/hub/internal/migrations"
	"github.com/outagewatch/hub/internal/store"

	"github.com/pocketbase/pocketbase"
	"github.com/spf13/cobra"
)

func main() {
	app := pocketbase.NewWithConfig(pocketbase.Config{
		DefaultDataDir: outagewatch.AppName + "_data",
	})
	app.RootCmd.Version = outagewatch.Version
	app.RootCmd.Use = outagewatch.AppName
	app.RootCmd.Short = ""

	adminTokenCmd := &cobra.Command{
		Use:   "admin-token [subject]",
		Short: "Mint a bearer token for the admin HTTP surface",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			subject := "operator"
			if len(args) > 0 {
				subject = args[0]
			}
			secret, _ := config.GetEnv("ADMIN_JWT_SECRET")
			if secret == "" {
				fmt.Fprintln(os.Stderr, "ADMIN_JWT_SECRET is not set")
				os.Exit(1)
			}
			ttlMinutes, _ := cmd.Flags().GetInt("ttl-minutes")
			tok, err := adminauth.New(secret).Mint(subject, time.Duration(ttlMinutes)*time.Minute, time.Now())
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fmt.Println(tok)
		},
	}
	adminTokenCmd.Flags().Int("ttl-minutes", 60, "token lifetime in minutes")
	app.RootCmd.AddCommand(adminTokenCmd)

	// freeze/unfreeze are one-shot deploy-script commands: bootstrap just
	// opens the database (no HTTP server, no background tasks) so the
	// command can exit as soon as the write lands.
	freezeCmd := &cobra.Command{
		Use:   "freeze [sensor-uuid]",
		Short: "Pin a sensor's (or every sensor's, with --all) contributed power state during a deploy",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := app.Bootstrap(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fc := freeze.New(store.New(app, clock.Real{}), clock.Real{})
			minutes, _ := cmd.Flags().GetInt("minutes")
			assumeUp, _ := cmd.Flags().GetBool("up")
			all, _ := cmd.Flags().GetBool("all")
			ctx := cmd.Context()
			if all {
				stampedAt, err := fc.FreezeAll(ctx, time.Duration(minutes)*time.Minute, assumeUp)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				fmt.Println(stampedAt.Format(time.RFC3339Nano))
				return
			}
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "a sensor-uuid argument is required unless --all is set")
				os.Exit(1)
			}
			until := time.Now().Add(time.Duration(minutes) * time.Minute)
			if err := fc.Freeze(ctx, args[0], until, assumeUp); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	freezeCmd.Flags().Int("minutes", 30, "freeze duration in minutes")
	freezeCmd.Flags().Bool("up", true, "assumed power state while frozen")
	freezeCmd.Flags().Bool("all", false, "freeze every active sensor instead of a single one, printing the freeze timestamp for the matching unfreeze call")
	app.RootCmd.AddCommand(freezeCmd)

	unfreezeCmd := &cobra.Command{
		Use:   "unfreeze [sensor-uuid]",
		Short: "Clear a sensor's freeze, or every sensor frozen by a prior --all freeze (--since)",
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			if err := app.Bootstrap(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			fc := freeze.New(store.New(app, clock.Real{}), clock.Real{})
			ctx := cmd.Context()
			since, _ := cmd.Flags().GetString("since")
			if since != "" {
				stampedAt, err := time.Parse(time.RFC3339Nano, since)
				if err != nil {
					fmt.Fprintln(os.Stderr, "invalid --since timestamp:", err)
					os.Exit(1)
				}
				n, err := fc.UnfreezeByFreezeAt(ctx, stampedAt)
				if err != nil {
					fmt.Fprintln(os.Stderr, err)
					os.Exit(1)
				}
				fmt.Printf("unfroze %d sensors\n", n)
				return
			}
			if len(args) != 1 {
				fmt.Fprintln(os.Stderr, "a sensor-uuid argument is required unless --since is set")
				os.Exit(1)
			}
			if err := fc.Unfreeze(ctx, args[0]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	unfreezeCmd.Flags().String("since", "", "unfreeze the cohort frozen by the --all freeze stamped at this RFC3339 timestamp, instead of a single sensor-uuid")
	app.RootCmd.AddCommand(unfreezeCmd)

	hubApp, err := hub.NewHub(app)
	if err != nil {
		fmt.Fprintln(os.Stderr, "outagewatch: ", err)
		os.Exit(1)
	}

	if err := hubApp.StartHub(); err != nil {
		fmt.Fprintln(os.Stderr, "outagewatch: ", err)
		os.Exit(1)
	}
}
