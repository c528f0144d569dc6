package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/stepwise/internal/toolbox"
	"github.com/spf13/cobra"
)

func toolsCMD(cfgPath *string) *cobra.Command {
	var (
		capabilities bool
		defaults     string
	)
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools the planner can use",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if defaults != "" {
				data, err := toolbox.DefaultDocument(defaults)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if capabilities {
				fmt.Fprint(out, a.toolbox.DescribeCapabilities())
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tCATEGORY\tINPUTS\tOUTPUTS\tCAPABILITIES")
			for _, name := range a.toolbox.ToolNames() {
				var category, inputs, outputs string
				if t, ok := a.toolbox.Schema(name); ok {
					category = t.Metadata.Category
					var in, outNames []string
					for _, i := range t.Inputs {
						if i.Required {
							in = append(in, i.Name+"*")
						} else {
							in = append(in, i.Name)
						}
					}
					for _, o := range t.Outputs {
						outNames = append(outNames, o.Name)
					}
					inputs, outputs = strings.Join(in, ","), strings.Join(outNames, ",")
				}
				var caps string
				if m, ok := a.toolbox.Registry().Get(name); ok {
					caps = strings.Join(m.Capabilities, ",")
					if category == "" {
						category = m.Category
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", name, category, inputs, outputs, caps)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&capabilities, "capabilities", false, "print the capability catalog as shown to the model")
	cmd.Flags().StringVar(&defaults, "print-default", "", "print a built-in document: schema, capabilities or registry")
	return cmd
}
