package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hayato-mori/issuepilot/internal/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the issuepilot version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(buildinfo.GetVersion())
		},
	}
}
