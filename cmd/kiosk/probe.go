package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"not-you-kiosk/internal/config"
	"not-you-kiosk/internal/generation"
	"not-you-kiosk/internal/httpclient"
	"not-you-kiosk/internal/sdapi"
)

func newProbeCmd(flags *rootFlags) *cobra.Command {
	var showOptions bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check that the image service answers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, flags)

			api := sdapi.New(sdapi.Options{
				BaseURL: cfg.API.BaseURL,
				HTTPClient: httpclient.New(httpclient.Options{
					PreferIPv4: cfg.PreferIPv4,
					Timeout:    cfg.API.Timeout,
					Username:   cfg.API.Username,
					Password:   cfg.API.Password,
				}),
				Logger: &logger,
			})
			gen := generation.New(generation.Options{API: api, RequestTimeout: cfg.API.Timeout, Workers: 1, Logger: &logger})
			defer gen.Close()

			info, err := gen.GetAPIInfo(cmd.Context())
			if err != nil {
				return fmt.Errorf("probe %s: %w", api.BaseURL(), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is reachable (%d options)\n", api.BaseURL(), len(info))
			if showOptions {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showOptions, "options", false, "Print the service options document")
	return cmd
}
