package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "View and manage conversation sessions",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsResetCmd())
	return cmd
}

func sessionsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all sessions",
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			svc, _ := newService(ctx)
			defer svc.Close()

			ccs, err := svc.Sessions(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(ccs, "", "  ")
				fmt.Println(string(data))
				return
			}
			if len(ccs) == 0 {
				fmt.Println("No sessions found.")
				return
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "USER\tPROJECT\tEXCHANGES\tTOKENS\tCOMPRESSIONS\tUPDATED\n")
			for _, cc := range ccs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d/%d\t%d\t%s\n",
					cc.User, cc.Project,
					len(cc.RecentExchanges),
					cc.TokensUsed, cc.TokenBudget,
					cc.CompressionCount,
					cc.UpdatedAt.Format(time.DateTime),
				)
			}
			tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sessionsResetCmd() *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "reset [project]",
		Short: "Delete a session's conversation context (evidence index is kept)",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := context.Background()
			svc, _ := newService(ctx)
			defer svc.Close()

			if err := svc.ResetSession(ctx, user, args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Reset session %s/%s\n", user, args[0])
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", defaultUser(), "session user")
	return cmd
}
