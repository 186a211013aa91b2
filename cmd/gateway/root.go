package main

import (
	"dixis-gateway/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Dixis API gateway",
		Long: `Gateway HTTP do marketplace Dixis: roteia por prefixo para auth, products,
orders e shipping, com rate limit de janela fixa compartilhado via Redis.

Configuração: defaults < arquivo YAML (--config) < variáveis GATEWAY_*.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML, optional)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newRoutesCmd(opts))
	cmd.AddCommand(newRateLimitCmd(opts))
	return cmd
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(o.configFile)
}
