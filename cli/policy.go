package cli

import (
	"github.com/spf13/cobra"
)

func newPolicyCommand(a *app) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Print the effective validation policy",
		Long: `Print the validation policy as YAML. Without --file the policy from the
configuration is used, or the built-in policy when none is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file != "" {
				a.config.Validation.Policy = file
			}
			p, err := a.config.Validation.LoadPolicy()
			if err != nil {
				return err
			}
			data, err := p.Marshal()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "policy file to load and print")
	return cmd
}
