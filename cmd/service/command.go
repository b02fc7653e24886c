package service

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/quka-ai/ragstream/app/core"
)

type Options struct {
	ConfigPath string
}

func (o *Options) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVarP(&o.ConfigPath, "config", "c", "", "init api by given config, env variables are used when empty")
}

func NewCommand() *cobra.Command {
	opts := &Options{}
	cmd := &cobra.Command{
		Use:   "service",
		Short: "chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(opts)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func loadConfig(path string) core.CoreConfig {
	if path == "" {
		return core.LoadBaseConfigFromENV()
	}
	return core.MustLoadBaseConfig(path)
}

func Run(opts *Options) error {
	app := core.MustSetupCore(loadConfig(opts.ConfigPath))
	return serve(app)
}
