package main

import (
	"fmt"

	"github.com/blukai/coopparty/internal/roomcode"
	"github.com/spf13/cobra"
)

func codeCmd() *cobra.Command {
	var check string

	cmd := &cobra.Command{
		Use:   "code",
		Short: "Generate a room code, or check one",
		RunE: func(cmd *cobra.Command, args []string) error {
			if check != "" {
				code := roomcode.Normalize(check)
				if err := roomcode.Validate(code); err != nil {
					return err
				}
				fmt.Println(code)
				return nil
			}

			code, err := roomcode.Generate()
			if err != nil {
				return err
			}
			fmt.Println(code)
			return nil
		},
	}

	cmd.Flags().StringVar(&check, "check", "", "validate and normalize a code instead")

	return cmd
}
