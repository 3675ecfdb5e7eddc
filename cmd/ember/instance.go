// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ember Contributors

package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/emberlaunch/ember/internal/instance"
)

func newInstanceCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instance",
		Aliases: []string{"instances"},
		Short:   "Manage game instances",
	}

	cmd.AddCommand(newInstanceCreateCmd(deps))
	cmd.AddCommand(newInstanceListCmd(deps))
	cmd.AddCommand(newInstanceShowCmd(deps))
	cmd.AddCommand(newInstanceUpdateCmd(deps))
	cmd.AddCommand(newInstanceDeleteCmd(deps))
	cmd.AddCommand(newInstanceImportCmd(deps))

	return cmd
}

// overrideFlags are the launch settings shared by create and update.
type overrideFlags struct {
	java      string
	memory    bool
	memoryMin int
	memoryMax int
	jvmArgs   []string
	gameArgs  []string
	env       map[string]string
}

func (o *overrideFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&o.java, "java", "", "java executable (absolute path; default: bundled runtime)")
	fs.BoolVar(&o.memory, "memory", false, "pass heap size flags to the JVM")
	fs.IntVar(&o.memoryMin, "memory-min", instance.DefaultMemoryMin, "minimum heap in MiB")
	fs.IntVar(&o.memoryMax, "memory-max", instance.DefaultMemoryMax, "maximum heap in MiB")
	fs.StringArrayVar(&o.jvmArgs, "jvm-arg", nil, "extra JVM argument (repeatable)")
	fs.StringArrayVar(&o.gameArgs, "game-arg", nil, "extra game argument (repeatable)")
	fs.StringToStringVar(&o.env, "env", nil, "extra environment variable KEY=VALUE (repeatable)")
}

// apply copies the flags the user set onto overrides.
func (o *overrideFlags) apply(fs *pflag.FlagSet, dst *instance.Overrides) {
	if fs.Changed("java") {
		dst.Java = o.java
	}
	if fs.Changed("memory") {
		dst.Memory.Enabled = o.memory
	}
	if fs.Changed("memory-min") {
		dst.Memory.Min = o.memoryMin
	}
	if fs.Changed("memory-max") {
		dst.Memory.Max = o.memoryMax
	}
	if fs.Changed("jvm-arg") {
		dst.JVMArgs = o.jvmArgs
	}
	if fs.Changed("game-arg") {
		dst.GameArgs = o.gameArgs
	}
	if fs.Changed("env") {
		dst.Env = o.env
	}
}

// instanceCreateConfig holds configuration for the instance create command.
type instanceCreateConfig struct {
	version string
	root    string
	overrideFlags
}

func newInstanceCreateCmd(deps *Deps) *cobra.Command {
	cfg := &instanceCreateConfig{}

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				spec := instance.Spec{
					Name:    args[0],
					Version: cfg.version,
					Loader:  instance.LoaderVanilla,
					Launch: instance.Overrides{
						Memory: instance.Memory{
							Min: a.cfg.Launch.Memory.Min,
							Max: a.cfg.Launch.Memory.Max,
						},
					},
				}
				if cfg.root != "" {
					root, err := filepath.Abs(cfg.root)
					if err != nil {
						return instance.ErrInvalidSpec(err)
					}
					spec.Root = root
				}
				cfg.apply(cmd.Flags(), &spec.Launch)

				inst, err := a.instances.Create(ctx, spec)
				if err != nil {
					return err
				}
				cmd.Printf("Created %s (%s) at %s\n", inst.Name, inst.ID, inst.Root)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.version, "version", "", "game version id (required)")
	cmd.Flags().StringVar(&cfg.root, "root", "", "instance directory (default: under the data directory)")
	cfg.register(cmd.Flags())
	_ = cmd.MarkFlagRequired("version")

	return cmd
}

// instanceListConfig holds configuration for the instance list command.
type instanceListConfig struct {
	jsonOutput bool
}

func newInstanceListCmd(deps *Deps) *cobra.Command {
	cfg := &instanceListConfig{}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List instances",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				list, err := a.instances.List(ctx)
				if err != nil {
					return err
				}
				if cfg.jsonOutput {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return formatInstanceTable(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output instances as JSON")

	return cmd
}

func formatInstanceTable(w io.Writer, list []*instance.Instance) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No instances. Run 'ember instance create' to add one.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tVERSION\tLOADER\tROOT")
	for _, inst := range list {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inst.ID, inst.Name, inst.Version, inst.Loader, inst.Root)
	}
	return tw.Flush()
}

func newInstanceShowCmd(deps *Deps) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <instance-id>",
		Short: "Show an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				inst, err := a.instances.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(cmd.OutOrStdout(), inst)
				}
				cmd.Printf("id: %s\nroot: %s\n", inst.ID, inst.Root)
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent(2)
				if err := enc.Encode(instance.ManifestOf(inst)); err != nil {
					return err
				}
				return enc.Close()
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output the instance as JSON")

	return cmd
}

// instanceUpdateConfig holds configuration for the instance update command.
type instanceUpdateConfig struct {
	name    string
	version string
	overrideFlags
}

func newInstanceUpdateCmd(deps *Deps) *cobra.Command {
	cfg := &instanceUpdateConfig{}

	cmd := &cobra.Command{
		Use:   "update <instance-id>",
		Short: "Change an instance's name, version or launch settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				flags := cmd.Flags()
				inst, err := a.instances.Update(ctx, args[0], func(inst *instance.Instance) error {
					if flags.Changed("name") {
						inst.Name = cfg.name
					}
					if flags.Changed("version") {
						inst.Version = cfg.version
					}
					cfg.apply(flags, &inst.Launch)
					return nil
				})
				if err != nil {
					return err
				}
				cmd.Printf("Updated %s (%s)\n", inst.Name, inst.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&cfg.name, "name", "", "new display name")
	cmd.Flags().StringVar(&cfg.version, "version", "", "new game version id")
	cfg.register(cmd.Flags())

	return cmd
}

func newInstanceDeleteCmd(deps *Deps) *cobra.Command {
	var removeFiles bool

	cmd := &cobra.Command{
		Use:     "delete <instance-id>",
		Aliases: []string{"rm"},
		Short:   "Remove an instance from the launcher",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				if err := a.instances.Delete(ctx, args[0], instance.DeleteOptions{RemoveFiles: removeFiles}); err != nil {
					return err
				}
				cmd.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&removeFiles, "files", false, "also delete the instance directory")

	return cmd
}

func newInstanceImportCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "import <dir>",
		Short: "Register an existing instance directory",
		Long: `Register a directory that already contains an instance.yaml manifest,
for example one copied from another machine.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, deps, func(ctx context.Context, a *app) error {
				dir, err := filepath.Abs(args[0])
				if err != nil {
					return instance.ErrInvalidSpec(err)
				}
				inst, err := a.instances.Import(ctx, dir)
				if err != nil {
					return err
				}
				cmd.Printf("Imported %s (%s)\n", inst.Name, inst.ID)
				return nil
			})
		},
	}
}
