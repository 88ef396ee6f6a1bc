package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/davidchanminpark/time-my-life/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Create or show the device configuration",
	Long: `Configuration is read from ~/.tml/config.yaml, then the file named by
--config, then TML_* environment variables (TML_PEER_URL, TML_DEVICE_ROLE, ...).`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		path := cfgFile
		if path == "" {
			path = config.GlobalConfigPath()
		}
		if err := config.WriteDefault(path, force); err != nil {
			fatal(err)
		}
		out.Success("Wrote %s", path)
		out.Line("Set device.role and peer.url, then run 'tml daemon'.")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fatal(err)
		}
		data, err := config.Marshal(cfg)
		if err != nil {
			fatal(err)
		}
		_, _ = os.Stdout.Write(data)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
