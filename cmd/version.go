package cmd

import (
	"os"

	"github.com/bloomnetwork/bloombridge/version"
	"github.com/urfave/cli/v2"
)

// VersionCmd prints the version info.
func VersionCmd(*cli.Context) error {
	version.PrintVersion(os.Stdout)
	return nil
}
