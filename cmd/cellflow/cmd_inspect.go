package main

import (
	"github.com/spf13/cobra"

	"github.com/banshee-data/cellflow/internal/fsutil"
)

func newInspectCmd() *cobra.Command {
	var flags workflowFlags
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the wired lanes and their propagated metadata as YAML",
		Long:  "inspect builds the workflow and prints every lane's operators, their\nconnections and slot metadata. No image data is read.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, _, err := flags.build(fsutil.OSFileSystem{})
			if err != nil {
				return err
			}
			out, err := w.Describe()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	flags.register(cmd.Flags())
	return cmd
}
