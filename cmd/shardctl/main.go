package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	app := &App{}
	root := app.Cmd()
	root.AddCommand(app.AppPreview().Cmd(), app.AppCheck().Cmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
