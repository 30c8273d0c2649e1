package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/byarielm/atlast/internal/helpers"
	"github.com/byarielm/atlast/internal/oauth"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "helper",
		Usage: "atlast setup utilities",
		Commands: []*cli.Command{
			runGenerateJwks,
			runGenerateSecret,
		},
	}

	app.RunAndExitOnError()
}

var runGenerateJwks = &cli.Command{
	Name:  "generate-jwks",
	Usage: "generate the client signing key, written to ./jwks.json",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "prefix",
			Required: false,
		},
	},
	Action: func(cmd *cli.Context) error {
		var prefix *string
		if cmd.String("prefix") != "" {
			inputPrefix := cmd.String("prefix")
			prefix = &inputPrefix
		}

		key, err := oauth.GenerateKey(prefix)
		if err != nil {
			return err
		}

		b, err := json.Marshal(key)
		if err != nil {
			return err
		}

		if err := os.WriteFile("./jwks.json", b, 0644); err != nil {
			return err
		}

		fmt.Println("wrote jwks.json, set ATLAST_CLIENT_JWK to its contents")

		return nil
	},
}

var runGenerateSecret = &cli.Command{
	Name:  "generate-secret",
	Usage: "generate a value for ATLAST_COOKIE_SECRET",
	Action: func(cmd *cli.Context) error {
		secret, err := helpers.GenerateToken(32)
		if err != nil {
			return err
		}

		fmt.Println(secret)

		return nil
	},
}
