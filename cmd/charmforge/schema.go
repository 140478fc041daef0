package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/charmtools/charmforge/internal/config"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema for the project configuration",
	RunE: func(cmd *cobra.Command, _ []string) error {
		bs, err := config.ReflectSchema()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(bs))
		return nil
	},
}
