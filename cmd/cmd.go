package cmd

import (
	"log"
	"os"

	"github.com/urfave/cli"

	App "depot/app"
	_ "depot/pkg"
)

func Execute(name, usage, version, commit string) {
	app := cli.NewApp()
	app.Name = name
	app.Usage = usage
	app.Version = version
	if commit != "" {
		app.Version = version + " (" + commit + ")"
	}
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "config, c",
			Value: "config.yaml",
			Usage: "Configuration file path",
		},
		&cli.StringFlag{
			Name:  "root, r",
			Usage: "Repository root path",
		},
		&cli.StringFlag{
			Name:  "staging",
			Usage: "Upload staging directory",
		},
		&cli.StringFlag{
			Name:  "storage-type",
			Usage: "Storage backend (local, mindb, s3)",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "Enable debug logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:   "setup",
			Usage:  "Initialize the repository root, trash and staging directories",
			Action: App.Setup,
		},
		{
			Name:      "upload",
			Usage:     "Upload a package archive",
			ArgsUsage: "<type> <archive-file>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "name",
					Usage: "Destination name (defaults to the file name)",
				},
				&cli.BoolFlag{
					Name:  "update",
					Usage: "Allow replacing an existing package",
				},
			},
			Action: App.Upload,
		},
		{
			Name:      "assets",
			Usage:     "Upload a batch of asset images for a package",
			ArgsUsage: "<type> <slug> <category> <file>...",
			Action:    App.Assets,
		},
		{
			Name:      "put-asset",
			Usage:     "Upload a single asset, replacing a matching screenshot index",
			ArgsUsage: "<type> <slug> <category> <file>",
			Action:    App.PutAsset,
		},
		{
			Name:      "list-assets",
			Usage:     "List stored assets for a category",
			ArgsUsage: "<type> <slug> <category>",
			Action:    App.ListAssets,
		},
		{
			Name:      "delete-asset",
			Usage:     "Delete a stored asset by name",
			ArgsUsage: "<type> <slug> <filename>",
			Action:    App.DeleteAsset,
		},
		{
			Name:      "trash",
			Usage:     "Move a package into the trash",
			ArgsUsage: "<type> <slug>",
			Action:    App.Trash,
		},
		{
			Name:      "restore",
			Usage:     "Restore a trashed package",
			ArgsUsage: "<type> <slug>",
			Action:    App.Restore,
		},
		{
			Name:      "manifest",
			Usage:     "Read or rebuild the app manifest of a package",
			ArgsUsage: "<type> <slug>",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "name",
					Usage: "Package display name",
				},
				&cli.StringFlag{
					Name:  "version",
					Usage: "Package version",
				},
				&cli.StringFlag{
					Name:  "description",
					Usage: "Short description",
				},
				&cli.BoolFlag{
					Name:  "regen",
					Usage: "Force a rebuild even if the cached manifest parses",
				},
			},
			Action: App.Manifest,
		},
		{
			Name:      "info",
			Usage:     "Print parsed sidecar headers and sections",
			ArgsUsage: "<type> <slug>",
			Action:    App.Info,
		},
		{
			Name:  "gc",
			Usage: "Permanently delete aged trash entries",
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:  "older-than",
					Usage: "Retention window in days",
				},
			},
			Action: App.GC,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
