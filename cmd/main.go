package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/quka-ai/ragstream/cmd/ask"
	"github.com/quka-ai/ragstream/cmd/service"
)

func main() {
	root := &cobra.Command{
		Use:   "ragstream",
		Short: "streaming retrieval augmented chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.AddCommand(service.NewCommand(), ask.NewCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
