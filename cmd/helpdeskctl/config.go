package main

import (
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

type fileConfig struct {
	Server    string `toml:"server"`
	Timeout   string `toml:"timeout"`
	AgentID   string `toml:"agent_id,omitempty"`
	AgentName string `toml:"agent_name,omitempty"`
}

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the helpdeskctl config file",
	}
	cmd.AddCommand(newConfigInitCmd(c), newConfigShowCmd(c))
	return cmd
}

func newConfigInitCmd(c *cli) *cobra.Command {
	var (
		force              bool
		agentID, agentName string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file from the current settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(c.configPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", c.configPath)
			}
			cfg := c.current()
			if agentID != "" {
				cfg.AgentID = agentID
			}
			if agentName != "" {
				cfg.AgentName = agentName
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(c.configPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := os.WriteFile(c.configPath, data, 0o600); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", c.configPath)
			return err
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().StringVar(&agentID, "agent-id", "", "default agent id for queue accept")
	cmd.Flags().StringVar(&agentName, "agent-name", "", "default agent display name")
	return cmd
}

func newConfigShowCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := toml.Marshal(c.current())
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func (c *cli) current() fileConfig {
	return fileConfig{
		Server:    c.server(),
		Timeout:   c.timeout().String(),
		AgentID:   c.v.GetString(keyAgentID),
		AgentName: c.v.GetString(keyAgentName),
	}
}
