package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gardenos/gardend/internal/backend/container"
	"github.com/gardenos/gardend/internal/backend/file"
	"github.com/gardenos/gardend/internal/catalog"
	"github.com/gardenos/gardend/internal/farmer"
	"github.com/gardenos/gardend/internal/registry"
	"github.com/gardenos/gardend/internal/store"
	"github.com/gardenos/gardend/internal/supervisor"
)

var rootCmd = &cobra.Command{
	Use:   "gardend",
	Short: "Plugin and farmer orchestration for the garden appliance",
	Long: `gardend manages the appliance's plugins (built-in, containerized and
downloaded executables) and supervises the farming binary, including its
auto-update flow.`,
}

func init() {
	rootCmd.PersistentFlags().StringP("root", "r", "/var/lib/gardend", "data root dir")
	rootCmd.PersistentFlags().String("catalog-url", catalog.DefaultURL, "plugin catalog URL or file path")
	rootCmd.PersistentFlags().String("manifest-url", farmer.DefaultManifestURL, "farmer update manifest URL")
}

// mustRoot returns --root from the root command's PersistentFlags; exits if unset.
func mustRoot(cmd *cobra.Command) string {
	root, err := cmd.Root().PersistentFlags().GetString("root")
	if err != nil || root == "" {
		zap.L().Error("must specify --root")
		os.Exit(2)
	}
	return root
}

// app wires the engine's components over a shared data root.
type app struct {
	store      *store.FileStore
	registry   *registry.Registry
	catalog    *catalog.Client
	supervisor *supervisor.Supervisor
	farmer     *farmer.Supervisor
}

func newApp(cmd *cobra.Command) (*app, error) {
	root := mustRoot(cmd)
	log := zap.L()
	st, err := store.NewFileStore(root)
	if err != nil {
		return nil, err
	}
	reg := registry.New(st, log)
	if err := reg.Load(); err != nil {
		return nil, err
	}
	catalogURL, _ := cmd.Root().PersistentFlags().GetString("catalog-url")
	manifestURL, _ := cmd.Root().PersistentFlags().GetString("manifest-url")
	containers, err := container.Connect(log)
	if err != nil {
		return nil, err
	}
	files := file.New(filepath.Join(root, "bin"), log)
	return &app{
		store:      st,
		registry:   reg,
		catalog:    catalog.New(catalogURL, log),
		supervisor: supervisor.New(reg, containers, files, log),
		farmer:     farmer.New(st, st, log, farmer.WithManifestURL(manifestURL)),
	}, nil
}
