package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/chrisvdg/offmarket/cache"
	"github.com/chrisvdg/offmarket/server"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var cmdRoot = &cobra.Command{
	Use:   "offmarket",
	Short: "Offline-first cache in front of the Off Market site",
	Long: `
offmarket answers site requests from versioned cache areas, filling them from
the origin. A new version seeds its area on install and deletes the areas of
every other version on activation.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Serve the site through the offline cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := server.New(c)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return s.ListenAndServe(ctx)
	},
}

var activateAfterInstall bool

var cmdInstall = &cobra.Command{
	Use:   "install",
	Short: "Seed the cache area of the configured version",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		s, err := server.New(c)
		if err != nil {
			return err
		}
		defer s.Close()

		ctx := cmd.Context()
		if err := s.Controller().Install(ctx); err != nil {
			return err
		}
		if activateAfterInstall {
			if err := s.Controller().Activate(ctx); err != nil {
				return err
			}
		}
		log.Infof("%s is %s", s.Controller().AreaName(), s.Controller().State())
		return nil
	},
}

var cmdAreas = &cobra.Command{
	Use:   "areas",
	Short: "List the cache areas and whether they are current or stale",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		storage, err := cache.New(&c.Cache)
		if err != nil {
			return err
		}
		defer storage.Close()

		ctx := cmd.Context()
		names, err := storage.Names(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "AREA\tSTATE\tENTRIES")
		for _, name := range names {
			area, err := storage.Open(ctx, name)
			if err != nil {
				return err
			}
			keys, err := area.Keys(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\n", name, cache.Classify(name, c.Version.Name()), len(keys))
		}
		return w.Flush()
	},
}

func init() {
	cmdRoot.PersistentFlags().StringVarP(&configPath, "config", "f", os.Getenv(server.EnvPrefix+"CONFIG"), "path to the YAML config file")
	server.DefaultConfig().BindFlags(cmdRoot.PersistentFlags())
	cmdInstall.Flags().BoolVar(&activateAfterInstall, "activate", true, "activate the version once installed")

	cmdRoot.AddCommand(cmdServe, cmdInstall, cmdAreas)
}

// loadConfig layers defaults, the config file, the environment and the flags
func loadConfig(cmd *cobra.Command) (*server.Config, error) {
	c, err := server.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := c.ApplyFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	if c.Verbose {
		log.SetLevel(log.DebugLevel)
	}
	return c, nil
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		log.Fatal(err)
	}
}
