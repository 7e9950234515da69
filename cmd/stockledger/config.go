package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/stockledger/internal/config"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "admin",
	Short:   "Write or show configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the effective configuration to a TOML file",
	Long: `Write the effective configuration (defaults, environment and flags) to a
TOML file, stockledger.toml by default. With --defaults only the built-in
defaults are written.`,
	Run: func(cmd *cobra.Command, args []string) {
		path, _ := cmd.Flags().GetString("path")
		force, _ := cmd.Flags().GetBool("force")
		defaultsOnly, _ := cmd.Flags().GetBool("defaults")

		out := cfg
		if defaultsOnly {
			var err error
			if out, err = config.Default(); err != nil {
				fatalf("%v", err)
			}
		}

		if err := config.WriteTOML(path, out, force); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")
		if err := validFormat(format); err != nil {
			fatalf("%v", err)
		}

		if format != formatText {
			if err := writeStructured(os.Stdout, format, v.AllSettings()); err != nil {
				fatalf("%v", err)
			}
			return
		}

		if used := v.ConfigFileUsed(); used != "" {
			fmt.Printf("Config file: %s\n\n", used)
		} else {
			fmt.Printf("Config file: %s\n\n", ui.RenderMuted("none (defaults)"))
		}
		rows := make([][]string, 0)
		for _, key := range config.Keys() {
			rows = append(rows, []string{key, fmt.Sprint(v.Get(key))})
		}
		fmt.Println(ui.RenderTable([]string{"Key", "Value"}, rows))
	},
}

func init() {
	configInitCmd.Flags().String("path", "stockledger.toml", "file to write")
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().Bool("defaults", false, "write built-in defaults, ignoring file, environment and flags")
	configShowCmd.Flags().StringP("format", "f", formatText, "output format: text, json or yaml")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
