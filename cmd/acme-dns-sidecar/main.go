package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/acme-dns-sidecar/internal/app"
	"github.com/foxzi/acme-dns-sidecar/internal/config"
)

// defaultConfigFile is where the acme-dns image keeps its configuration
const defaultConfigFile = "/etc/acme-dns/config.cfg"

var (
	cfgFile    string
	kubeconfig string
	namespace  string
	version    = "dev"
	commit     = "unknown"
	buildTime  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "acme-dns-sidecar",
	Short: "acme-dns credential sidecar",
	Long: `acme-dns-sidecar watches Kubernetes Secrets in its namespace and registers
the acme-dns accounts they describe in the acme-dns SQLite database.`,
	SilenceUsage: true,
	RunE:         runSidecar,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch secrets and register accounts",
	RunE:  runSidecar,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("acme-dns-sidecar version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "acme-dns config file path")
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "kubeconfig for running outside the cluster")
	rootCmd.PersistentFlags().StringVar(&namespace, "namespace", "", "namespace to watch (default: service account or kubeconfig namespace)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runSidecar(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(cfg, app.Options{
		Kubeconfig: kubeconfig,
		Namespace:  namespace,
	})
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	printConfigSummary(cmd.OutOrStdout(), cfg)
	return nil
}
