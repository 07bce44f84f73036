/*
	Copyright NetFoundry Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/xlayer"
	"github.com/openziti/xlayer/modules/echo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:          "xlayer",
		Short:        "Serve modules composed into a single HTTP layer",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := logrus.InfoLevel
			if verbose {
				level = logrus.DebugLevel
			}
			pfxlog.GlobalInit(level, pfxlog.DefaultOptions().SetTrimPrefix("github.com/openziti/"))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newRunCmd(), newBindingsCmd())

	return root
}

func newRegistry() (*xlayer.RegistryMap, error) {
	registry := xlayer.NewRegistryMap()
	if err := registry.Add(echo.NewFactory()); err != nil {
		return nil, err
	}
	return registry, nil
}

type runOptions struct {
	configFile      string
	envFiles        []string
	shutdownTimeout time.Duration
}

func newRunCmd() *cobra.Command {
	options := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build the layer from a config file and serve it until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return options.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&options.configFile, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringSliceVar(&options.envFiles, "env", nil, ".env files to load before expanding ${VARS} in the config")
	cmd.Flags().DurationVar(&options.shutdownTimeout, "shutdown-timeout", 15*time.Second, "time allowed for a graceful shutdown")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func (options *runOptions) run(ctx context.Context) error {
	log := pfxlog.Logger()

	if len(options.envFiles) > 0 {
		if err := godotenv.Load(options.envFiles...); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(options.configFile)
	if err != nil {
		return err
	}

	cfgmap, err := xlayer.LoadConfig([]byte(os.ExpandEnv(string(data))))
	if err != nil {
		return err
	}

	registry, err := newRegistry()
	if err != nil {
		return err
	}

	host := xlayer.NewHost(registry, nil)
	if err := host.LoadConfig(cfgmap); err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := host.Run(ctx); err != nil {
		return err
	}

	log.Info("layer running, waiting for interrupt")
	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), options.shutdownTimeout)
	defer cancel()

	return host.Shutdown(shutdownCtx)
}

func newBindingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bindings",
		Short: "List the module bindings a config file may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := newRegistry()
			if err != nil {
				return err
			}
			for _, binding := range registry.Bindings() {
				cmd.Println(binding)
			}
			return nil
		},
	}
}
