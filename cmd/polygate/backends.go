package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"polygate/registry"
)

var backendsCmd = &cobra.Command{
	Use:   "backends [service]",
	Short: "List backends registered in etcd.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Etcd.Endpoints) == 0 {
			return errors.New("no etcd endpoints configured")
		}

		reg, err := registry.NewEtcdRegistry(cfg.Etcd.Endpoints, cfg.Etcd.DialTimeout)
		if err != nil {
			return err
		}
		defer reg.Close()

		service := ""
		if len(args) == 1 {
			service = args[0]
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Etcd.DialTimeout)
		defer cancel()
		return listBackends(ctx, reg, service, cmd.OutOrStdout())
	},
}

func listBackends(ctx context.Context, reg registry.Registry, service string, out io.Writer) error {
	instances, err := reg.Discover(ctx, service)
	if err != nil {
		return err
	}
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Service != instances[j].Service {
			return instances[i].Service < instances[j].Service
		}
		return instances[i].Addr < instances[j].Addr
	})

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tADDR\tCODEC\tVERSION")
	for _, inst := range instances {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inst.Service, inst.Addr, inst.Codec, inst.Version)
	}
	return tw.Flush()
}
