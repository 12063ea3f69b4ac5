/*
   Copyright 2020 Docker Volume Watcher authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at
       http://www.apache.org/licenses/LICENSE-2.0
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

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/docker/volume-watcher/pkg/monitor"
	"github.com/docker/volume-watcher/pkg/watch"
)

type rootOptions struct {
	containerName string
	excludes      []string
	cooldown      time.Duration
	verbose       bool
}

func rootCommand() *cobra.Command {
	opts := rootOptions{}
	cmd := &cobra.Command{
		Use:   "docker-volume-watcher",
		Short: "Notify containers about file changes in bind-mounted host directories",
		Long: `docker-volume-watcher monitors bind-mounted host directories of running
containers and, whenever a file changes, rewrites that file's permission
bits inside the container. The rewrite is a no-op on the mode but makes
stat-based reload checks inside the container notice the change, which
inotify typically misses across a bind mount boundary.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if opts.verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.containerName, "container-name", "n", "*", "Container name pattern; only matching containers are watched")
	flags.StringArrayVarP(&opts.excludes, "exclude", "e", nil, "Host path pattern to ignore (repeatable)")
	flags.DurationVar(&opts.cooldown, "cooldown", watch.DefaultCooldown, "Minimum delay between two notifications for the same bind")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")

	return cmd
}

func runWatch(ctx context.Context, opts rootOptions) error {
	apiClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return err
	}
	defer apiClient.Close() //nolint:errcheck

	m := monitor.New(apiClient, monitor.Options{
		ContainerNamePattern: opts.containerName,
		ExcludePatterns:      opts.excludes,
		Cooldown:             opts.cooldown,
	})
	return m.Run(ctx)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
