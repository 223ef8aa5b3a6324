package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ent0n29/helpdesk/internal/ticket"
)

func newTicketsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tickets",
		Short: "Inspect and edit support tickets",
	}
	cmd.AddCommand(
		newTicketsListCmd(c),
		newTicketsGetCmd(c),
		newTicketsCreateCmd(c),
		newTicketsSetStatusCmd(c),
	)
	return cmd
}

func newTicketsListCmd(c *cli) *cobra.Command {
	var (
		status, sessionID, priority string
		limit                       int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if status != "" {
				q.Set("status", status)
			}
			if sessionID != "" {
				q.Set("session_id", sessionID)
			}
			if priority != "" {
				q.Set("priority", priority)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := "/v1/tickets"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}

			var res struct {
				Tickets []ticket.Ticket `json:"tickets"`
			}
			if err := c.client().do(cmd.Context(), "GET", path, nil, &res); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), res.Tickets)
			}
			return writeTicketTable(cmd.OutOrStdout(), res.Tickets)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (open|in_progress|waiting|resolved|closed)")
	cmd.Flags().StringVar(&sessionID, "session", "", "filter by chat session id")
	cmd.Flags().StringVar(&priority, "priority", "", "filter by priority (low|medium|high)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of tickets")
	return cmd
}

func newTicketsGetCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "get <ticket-id>",
		Short: "Show one ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t ticket.Ticket
			if err := c.client().do(cmd.Context(), "GET", "/v1/tickets/"+url.PathEscape(args[0]), nil, &t); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			return writeTicketDetail(cmd.OutOrStdout(), t)
		},
	}
}

func newTicketsCreateCmd(c *cli) *cobra.Command {
	var subject, description, priority, category, sessionID string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Open a ticket by hand",
		RunE: func(cmd *cobra.Command, _ []string) error {
			body := map[string]string{
				"subject":     subject,
				"description": description,
				"priority":    priority,
				"category":    category,
				"session_id":  sessionID,
			}
			var t ticket.Ticket
			if err := c.client().do(cmd.Context(), "POST", "/v1/tickets", body, &t); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "created ticket %s (%s)\n", t.ID, t.Status)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "ticket subject")
	cmd.Flags().StringVar(&description, "description", "", "ticket description")
	cmd.Flags().StringVar(&priority, "priority", "", "priority (low|medium|high)")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&sessionID, "session", "", "related chat session id")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newTicketsSetStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "set-status <ticket-id> <status>",
		Short: "Move a ticket to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t ticket.Ticket
			body := map[string]string{"status": args[1]}
			if err := c.client().do(cmd.Context(), "PATCH", "/v1/tickets/"+url.PathEscape(args[0]), body, &t); err != nil {
				return err
			}
			if c.asJSON {
				return writeJSON(cmd.OutOrStdout(), t)
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "ticket %s is now %s\n", t.ID, t.Status)
			return err
		},
	}
}

func writeTicketTable(w io.Writer, tickets []ticket.Ticket) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tSUBJECT\tUPDATED")
	for _, t := range tickets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.ID, t.Status, t.Priority, t.Subject, t.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "tickets: %d\n", len(tickets))
	return err
}

func writeTicketDetail(w io.Writer, t ticket.Ticket) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", t.ID)
	fmt.Fprintf(tw, "subject\t%s\n", t.Subject)
	fmt.Fprintf(tw, "status\t%s\n", t.Status)
	fmt.Fprintf(tw, "priority\t%s\n", t.Priority)
	fmt.Fprintf(tw, "category\t%s\n", t.Category)
	if t.SessionID != "" {
		fmt.Fprintf(tw, "session\t%s\n", t.SessionID)
	}
	fmt.Fprintf(tw, "created\t%s\n", t.CreatedAt.Local().Format(time.RFC3339))
	if t.ResolvedAt != nil {
		fmt.Fprintf(tw, "resolved\t%s\n", t.ResolvedAt.Local().Format(time.RFC3339))
	}
	if t.Description != "" {
		fmt.Fprintf(tw, "description\t%s\n", t.Description)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
