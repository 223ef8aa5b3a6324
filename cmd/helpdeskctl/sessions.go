package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ent0n29/helpdesk/internal/session"
)

func newSessionsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect chat sessions",
	}
	cmd.AddCommand(newSessionsGetCmd(c), newSessionsTranscriptCmd(c))
	return cmd
}

func newSessionsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session's state and message count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s session.Session
			if err := c.client().do(cmd.Context(), "GET", "/v1/chat/sessions/"+url.PathEscape(args[0]), nil, &s); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "id\t%s\n", s.ID)
			fmt.Fprintf(tw, "state\t%s\n", s.State)
			fmt.Fprintf(tw, "language\t%s\n", s.Language)
			if s.TicketID != "" {
				fmt.Fprintf(tw, "ticket\t%s\n", s.TicketID)
			}
			if s.AgentName != "" {
				fmt.Fprintf(tw, "agent\t%s (%s)\n", s.AgentName, s.AgentID)
			}
			fmt.Fprintf(tw, "messages\t%d\n", len(s.Messages))
			return tw.Flush()
		},
	}
}

func newSessionsTranscriptCmd(c *cli) *cobra.Command {
	var html bool
	cmd := &cobra.Command{
		Use:   "transcript <session-id>",
		Short: "Print the conversation as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				Markdown string `json:"markdown"`
				HTML     string `json:"html"`
			}
			if err := c.client().do(cmd.Context(), "GET", "/v1/chat/sessions/"+url.PathEscape(args[0])+"/transcript", nil, &res); err != nil {
				return err
			}
			out := res.Markdown
			if html {
				out = res.HTML
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}
	cmd.Flags().BoolVar(&html, "html", false, "print rendered HTML instead of Markdown")
	return cmd
}
