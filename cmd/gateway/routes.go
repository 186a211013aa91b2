package main

import (
	"io"

	"dixis-gateway/registry"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func newRoutesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "Print the service routes in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			reg, err := registry.New(cfg.Services)
			if err != nil {
				return err
			}
			renderRoutes(cmd.OutOrStdout(), reg.Routes())
			return nil
		},
	}
}

func renderRoutes(w io.Writer, routes []registry.Route) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"#", "Prefix", "Target"})
	for i, rt := range routes {
		t.AppendRow(table.Row{i + 1, rt.Prefix, rt.Target.String()})
	}
	t.Render()
}
