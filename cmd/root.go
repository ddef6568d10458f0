// Package cmd wires Exclave's cobra commands: run (the orchestrator), plan
// (offline schedule dump), and validate (config check).
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "exclave",
	Short: "Factory test orchestrator",
	Long: "Exclave reads a directory of declarative unit files, detects the jig it is\n" +
		"attached to, and runs named test scenarios against the device under test,\n" +
		"streaming results to pluggable loggers and interfaces.",
	RunE: runRootDefault,
}

// runRootDefault makes `exclave -c <dir>` behave like `exclave run`; with no
// config directory it falls back to showing help.
func runRootDefault(cmd *cobra.Command, args []string) error {
	if dirs, _ := cmd.Flags().GetStringArray("config-dir"); len(dirs) == 0 {
		return cmd.Help()
	}
	return runRun(runCmd, args)
}

// Execute runs the root command. Init failures exit nonzero.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringArrayP("config-dir", "c", nil, "directory of unit files (repeatable)")
	rootCmd.PersistentFlags().BoolP("quiet", "q", false, "suppress console output")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("debug-log", "", "append internal events to this JSONL file")
	rootCmd.PersistentFlags().String("config", "", "config file (default .exclave.yaml)")

	_ = viper.BindPFlag("config_dir", rootCmd.PersistentFlags().Lookup("config-dir"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("debug_log", rootCmd.PersistentFlags().Lookup("debug-log"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".exclave")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("EXCLAVE")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}
