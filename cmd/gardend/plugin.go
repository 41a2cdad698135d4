package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gardenos/gardend/internal/plugin"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage plugins",
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins and their status",
	RunE:  runPluginList,
}

var pluginListFormat string

func runPluginList(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	type row struct {
		plugin.Plugin
		Status plugin.Status `json:"status"`
	}
	var rows []row
	for _, p := range a.registry.List() {
		status, err := a.supervisor.Status(ctx, p.Name)
		if err != nil {
			return err
		}
		rows = append(rows, row{Plugin: p, Status: status})
	}
	if pluginListFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}
	for _, r := range rows {
		state := "stopped"
		if r.Status.Running {
			state = "running"
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", r.Name, r.Type, r.Version, state)
	}
	return nil
}

var pluginAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new plugin",
	RunE:  runPluginAdd,
}

var (
	addName       string
	addLabel      string
	addType       string
	addRepo       string
	addTag        string
	addSource     string
	addVersion    string
	addRunCommand string
	addDisabled   bool
)

func init() {
	pluginAddCmd.Flags().StringVar(&addName, "name", "", "unique plugin name (required)")
	pluginAddCmd.Flags().StringVar(&addLabel, "label", "", "display label")
	pluginAddCmd.Flags().StringVar(&addType, "type", "file", "plugin type: container | file")
	pluginAddCmd.Flags().StringVar(&addRepo, "repo", "", "artifact repo or registry")
	pluginAddCmd.Flags().StringVar(&addTag, "tag", "", "artifact tag")
	pluginAddCmd.Flags().StringVar(&addSource, "source", "", "artifact path or image ref")
	pluginAddCmd.Flags().StringVar(&addVersion, "version", "", "installed version")
	pluginAddCmd.Flags().StringVar(&addRunCommand, "run-command", "", "run command override")
	pluginAddCmd.Flags().BoolVar(&addDisabled, "disabled", false, "register without enabling")
	_ = pluginAddCmd.MarkFlagRequired("name")
}

func runPluginAdd(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	label := addLabel
	if label == "" {
		label = addName
	}
	stored, err := a.registry.Add(plugin.Plugin{
		Name:       addName,
		Label:      label,
		Enabled:    !addDisabled,
		Type:       plugin.ParseType(addType),
		Repo:       addRepo,
		Tag:        addTag,
		Source:     addSource,
		Version:    addVersion,
		RunCommand: addRunCommand,
	})
	if err != nil {
		return err
	}
	fmt.Printf("added %s (%s)\n", stored.Name, stored.Type)
	return nil
}

var pluginRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a plugin (built-ins cannot be removed)",
	Args:  cobra.ExactArgs(1),
	RunE:  runPluginRemove,
}

func runPluginRemove(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	if _, err := a.supervisor.Stop(context.Background(), args[0]); err != nil {
		return err
	}
	deleted, err := a.registry.Remove(args[0])
	if err != nil {
		return err
	}
	if !deleted {
		fmt.Printf("%s had no persisted row\n", args[0])
	}
	return nil
}

var pluginStartCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		return a.supervisor.Start(context.Background(), args[0])
	},
}

var pluginStopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Stop a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		stopped, err := a.supervisor.Stop(context.Background(), args[0])
		if err != nil {
			return err
		}
		if !stopped {
			fmt.Printf("%s was not running\n", args[0])
		}
		return nil
	},
}

var pluginStatusCmd = &cobra.Command{
	Use:   "status <name>",
	Short: "Query a plugin's runtime status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		status, err := a.supervisor.Status(context.Background(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

var pluginUpdatesCmd = &cobra.Command{
	Use:   "updates",
	Short: "Show available plugin updates from the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		if err := a.catalog.Refresh(context.Background()); err != nil {
			return err
		}
		updates := a.catalog.Updates(a.registry.List())
		if len(updates) == 0 {
			fmt.Println("all plugins up to date")
			return nil
		}
		for _, u := range updates {
			fmt.Printf("%s\t%s -> %s\n", u.Name, u.CurrentVersion, u.NewVersion)
		}
		return nil
	},
}

func init() {
	pluginListCmd.Flags().StringVar(&pluginListFormat, "format", "text", "output format: text | json")
	pluginCmd.AddCommand(pluginListCmd, pluginAddCmd, pluginRemoveCmd,
		pluginStartCmd, pluginStopCmd, pluginStatusCmd, pluginUpdatesCmd)
	rootCmd.AddCommand(pluginCmd)
}
