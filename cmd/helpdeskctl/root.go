package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	keyServer    = "server"
	keyTimeout   = "timeout"
	keyAgentID   = "agent_id"
	keyAgentName = "agent_name"
)

// cli carries settings resolved from flags, HELPDESKCTL_* env and the TOML
// config file, in that order of precedence.
type cli struct {
	v          *viper.Viper
	configPath string
	asJSON     bool
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	c.v.SetDefault(keyServer, "http://localhost:8080")
	c.v.SetDefault(keyTimeout, "10s")
	c.v.SetEnvPrefix("HELPDESKCTL")
	c.v.AutomaticEnv()

	rootCmd := &cobra.Command{
		Use:           "helpdeskctl",
		Short:         "Staff CLI for the helpdesk chat service",
		Long:          "helpdeskctl talks to a running helpdesk server: inspect and edit support tickets, watch the hand-off queue, accept waiting chats and read session transcripts.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ~/.config/helpdeskctl/config.toml)")
	flags.String(keyServer, "", "helpdesk server base URL")
	flags.Duration(keyTimeout, 0, "HTTP request timeout")
	flags.BoolVar(&c.asJSON, "json", false, "print raw JSON")
	_ = c.v.BindPFlag(keyServer, flags.Lookup(keyServer))
	_ = c.v.BindPFlag(keyTimeout, flags.Lookup(keyTimeout))

	rootCmd.AddCommand(
		newTicketsCmd(c),
		newQueueCmd(c),
		newSessionsCmd(c),
		newConfigCmd(c),
	)
	return rootCmd
}

func defaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "helpdeskctl", "config.toml"), nil
}

// load reads the config file when present. A missing default file is fine;
// a missing explicit one is not.
func (c *cli) load() error {
	explicit := c.configPath != ""
	if !explicit {
		path, err := defaultConfigPath()
		if err != nil {
			return err
		}
		c.configPath = path
	}
	c.v.SetConfigFile(c.configPath)
	c.v.SetConfigType("toml")
	if err := c.v.ReadInConfig(); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", c.configPath, err)
	}
	return nil
}

func (c *cli) server() string {
	return strings.TrimRight(strings.TrimSpace(c.v.GetString(keyServer)), "/")
}

func (c *cli) timeout() time.Duration {
	d := c.v.GetDuration(keyTimeout)
	if d <= 0 {
		d = 10 * time.Second
	}
	return d
}

func (c *cli) client() *apiClient {
	return newAPIClient(c.server(), c.timeout())
}
