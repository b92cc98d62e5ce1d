package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/paularlott/cli"

	"github.com/paularlott/duckchat"
)

var tokenCmd = &cli.Command{
	Name:  "token",
	Usage: "Fetch a fresh VQD token and print it with its outbound wire form",
	Run: func(ctx context.Context, cmd *cli.Command) error {
		client, err := duckchat.New(clientConfig(cmd, newLogger(cmd)))
		if err != nil {
			return err
		}

		token, err := client.GetToken(ctx)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(token, "", "  ")
		if err != nil {
			return err
		}
		wire, err := duckchat.EncodeToken(token.PrepareOutbound())
		if err != nil {
			return err
		}

		fmt.Println(string(data))
		fmt.Println()
		fmt.Println("User-Agent:", token.Identity())
		fmt.Println("X-Vqd-Hash-1:", wire)
		return nil
	},
}

var modelsCmd = &cli.Command{
	Name:  "models",
	Usage: "List the available models",
	Run: func(ctx context.Context, cmd *cli.Command) error {
		for _, m := range duckchat.Models {
			marker := " "
			if m.ID == duckchat.DefaultModel {
				marker = "*"
			}
			fmt.Printf("%s %-45s %-18s %s\n", marker, m.ID, m.Name, m.CreatedBy)
		}
		return nil
	},
}
