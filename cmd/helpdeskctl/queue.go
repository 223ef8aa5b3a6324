package main

import (
	"errors"
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/helpdesk/internal/chat"
	"github.com/ent0n29/helpdesk/internal/queue"
	"github.com/ent0n29/helpdesk/internal/session"
)

func newQueueCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show customers waiting for an agent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var res struct {
				Entries []queue.Entry `json:"entries"`
			}
			if err := c.client().do(cmd.Context(), "GET", "/v1/queue", nil, &res); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Entries)
			}
			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "POS\tSESSION\tWAITING")
			now := time.Now()
			for _, e := range res.Entries {
				pos := fmt.Sprint(e.Position)
				if e.Quarantined {
					pos = "held"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", pos, e.SessionID, now.Sub(e.EnqueuedAt).Round(time.Second))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			_, err := fmt.Fprintf(out, "waiting: %d\n", len(res.Entries))
			return err
		},
	}
	cmd.AddCommand(newQueueAcceptCmd(c), newQueueReleaseCmd(c))
	return cmd
}

func newQueueAcceptCmd(c *cli) *cobra.Command {
	var agentID, agentName string
	cmd := &cobra.Command{
		Use:   "accept",
		Short: "Join the customer at the head of the queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if agentID == "" {
				agentID = c.v.GetString(keyAgentID)
			}
			if agentName == "" {
				agentName = c.v.GetString(keyAgentName)
			}
			if agentID == "" {
				return errors.New("agent id is required (--agent-id or agent_id in config)")
			}
			var s session.Session
			err := c.client().do(cmd.Context(), "POST", "/v1/queue/accept", chat.Agent{ID: agentID, Name: agentName}, &s)
			if err != nil {
				var apiErr *apiError
				if errors.As(err, &apiErr) && apiErr.Code == "queue_empty" {
					_, werr := fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return werr
				}
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), s)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "joined session %s as %s (ticket %s)\n", s.ID, s.AgentName, s.TicketID)
			return err
		},
	}
	cmd.Flags().StringVar(&agentID, "agent-id", "", "agent identifier")
	cmd.Flags().StringVar(&agentName, "agent-name", "", "name shown to the customer")
	return cmd
}

func newQueueReleaseCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "release <session-id>",
		Short: "Put a held queue entry back in line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res struct {
				SessionID string `json:"session_id"`
				Position  int    `json:"position"`
			}
			if err := c.client().do(cmd.Context(), "POST", "/v1/queue/"+url.PathEscape(args[0])+"/release", nil, &res); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "session %s is back in line at position %d\n", res.SessionID, res.Position)
			return err
		},
	}
}
