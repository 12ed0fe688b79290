package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"not-you-kiosk/internal/config"
	"not-you-kiosk/internal/demographics"
)

func newPromptCmd() *cobra.Command {
	var (
		prefix     string
		suffix     string
		schemaFile string
	)
	cmd := &cobra.Command{
		Use:     "prompt field=option...",
		Short:   "Print the prompt a set of selections produces",
		Example: "  kiosk prompt age=Senior gender=Female\n  kiosk prompt --suffix '' ethnicity=Asian",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema := demographics.DefaultSchema()
			if schemaFile == "" {
				schemaFile = strings.TrimSpace(os.Getenv("KIOSK_CONFIG"))
			}
			if schemaFile != "" {
				fc, err := config.LoadFile(schemaFile)
				if err != nil {
					return err
				}
				if len(fc.Fields) > 0 {
					if schema, err = demographics.NewSchema(fc.Fields); err != nil {
						return err
					}
				}
			}

			sel, err := parseSelections(schema, args)
			if err != nil {
				return err
			}
			mapper := demographics.NewMapper(demographics.MapperOptions{Schema: schema, Prefix: prefix, Suffix: suffix})
			fmt.Fprintln(cmd.OutOrStdout(), mapper.BuildPrompt(sel))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", demographics.DefaultPrefix, "Text before the selection phrases")
	cmd.Flags().StringVar(&suffix, "suffix", demographics.DefaultSuffix, "Text after the selection phrases")
	cmd.Flags().StringVar(&schemaFile, "config", "", "Config file holding a field table (defaults KIOSK_CONFIG)")
	return cmd
}

func parseSelections(schema *demographics.Schema, args []string) (demographics.Selections, error) {
	sel := demographics.Selections{}
	for _, arg := range args {
		field, option, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("selection %q is not field=option", arg)
		}
		if !schema.ValidateSelection(field, option) {
			return nil, fmt.Errorf("%q is not an option of %q", option, field)
		}
		sel[field] = option
	}
	return sel, nil
}
