package main

import (
	"log"
	"os"

	"github.com/bloomnetwork/bloombridge/cmd"
	"github.com/bloomnetwork/bloombridge/config"
	"github.com/bloomnetwork/bloombridge/version"
	"github.com/urfave/cli/v2"
)

const appName = "bloombridge"

var (
	configFileFlag = cli.StringFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration `FILE`",
		Required: false,
	}
	saveConfigFlag = cli.StringFlag{
		Name:     config.FlagSaveConfigPath,
		Aliases:  []string{"s"},
		Usage:    "Save final configuration into the indicated path",
		Required: false,
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Version = version.Version

	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  cmd.VersionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Run bloombridge node",
			Action:  cmd.RunCmd,
			Flags:   []cli.Flag{&configFileFlag, &saveConfigFlag},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}
