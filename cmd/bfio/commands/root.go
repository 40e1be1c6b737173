// Package commands implements the bfio command-line tool.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/janelia-flyem/bfio"
	"github.com/janelia-flyem/bfio/bio"
	"github.com/janelia-flyem/bfio/config"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

var (
	configFile string
	verbose    bool
	fileType   string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "bfio",
	Short: "Read, write and inspect OME-TIFF and OME-Zarr images",
	Long: `bfio works with chunked microscopy images of up to five dimensions (T, C, Z, Y, X)
stored as OME-TIFF, OME-Zarr v2 or OME-Zarr v3 on local disk or in gs://, s3:// or
mem:// buckets.

Use "bfio [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return err
		}
		cfg.Logging.SetLogger()
		if verbose {
			bio.SetLogMode(bio.DebugMode)
		}
		return nil
	},
}

// Execute runs the command named on the command line.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "TOML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")
	rootCmd.PersistentFlags().StringVarP(&fileType, "type", "t", "auto", "Image format (auto|tiff|zarr|zarr3)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(sumCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(versionCmd)
}

func options() []bfio.Option {
	return []bfio.Option{bfio.WithConfig(cfg)}
}
