package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bonaparks-dev/dr7-exotic-escape-sub000/nexi"

	"github.com/spf13/cobra"
)

func macCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mac",
		Short: "Sign or verify gateway fields with the canonical MAC scheme",
	}
	cmd.PersistentFlags().String("key", "", "MAC key (defaults to $NEXI_MAC_KEY)")

	cmd.AddCommand(&cobra.Command{
		Use:   "sign key=value...",
		Short: "Print the canonical string and its MAC",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, fields, err := macInput(cmd, args)
			if err != nil {
				return err
			}
			fmt.Println(nexi.Canonical(fields))
			fmt.Println(nexi.Sign(fields, key))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify key=value... mac=<hex>",
		Short: "Check a received field set against its mac",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, fields, err := macInput(cmd, args)
			if err != nil {
				return err
			}
			if _, ok := fields[nexi.MACField]; !ok {
				return errors.New("no mac field given")
			}
			if !nexi.Verify(fields, key) {
				fmt.Printf("INVALID (expected %s)\n", nexi.Sign(fields, key))
				os.Exit(2)
			}
			fmt.Println("OK")
			return nil
		},
	})

	return cmd
}

func macInput(cmd *cobra.Command, args []string) (string, map[string]string, error) {
	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = os.Getenv("NEXI_MAC_KEY")
	}
	if key == "" {
		return "", nil, errors.New("a MAC key is required (--key or NEXI_MAC_KEY)")
	}

	fields := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || k == "" {
			return "", nil, fmt.Errorf("invalid field %q, want key=value", arg)
		}
		fields[k] = v
	}
	return key, fields, nil
}
