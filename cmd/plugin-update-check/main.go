package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/mitchellh/go-homedir"
	"github.com/offgrid-updates/update-server/pkg/client"
	"github.com/offgrid-updates/update-server/pkg/updater"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func defaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "plugin-update-check.db")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

type runFunc func(ctx context.Context, log *logrus.Logger, cmd *cobra.Command, args []string) error

func wrapRun(log *logrus.Logger, fn runFunc) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if must(cmd.Flags().GetBool("verbose")) {
			log.SetLevel(logrus.DebugLevel)
		}
		if err := fn(ctx, log, cmd, args); err != nil {
			log.Errorf("ERROR: %v", err)
			stop()
			os.Exit(1)
		}
	}
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	serverURL := must(cmd.Flags().GetString("server-url"))
	if serverURL == "" {
		return nil, errors.New("no update server URL provided")
	}
	return client.New(strings.TrimSuffix(serverURL, "/")), nil
}

func newUpdater(log *logrus.Logger, cmd *cobra.Command) (*updater.Updater, error) {
	identifier := must(cmd.Flags().GetString("plugin"))
	if identifier == "" {
		return nil, errors.New("no plugin identifier provided")
	}
	c, err := newClient(cmd)
	if err != nil {
		return nil, err
	}
	cachePath, err := homedir.Expand(must(cmd.Flags().GetString("cache-path")))
	if err != nil {
		return nil, err
	}
	log.Debugf("using cache %s", cachePath)
	cache, err := updater.NewKVCache(cachePath)
	if err != nil {
		return nil, fmt.Errorf("could not open cache %s: %w", cachePath, err)
	}
	return updater.New(c, cache, identifier, updater.WithLogger(log)), nil
}

func runDetails(ctx context.Context, log *logrus.Logger, cmd *cobra.Command, _ []string) error {
	u, err := newUpdater(log, cmd)
	if err != nil {
		return err
	}
	slug, _, _ := strings.Cut(must(cmd.Flags().GetString("plugin")), "/")
	m, ok := u.Details(ctx, slug)
	if !ok {
		return fmt.Errorf("no plugin information available for %s", slug)
	}
	return printJSON(m)
}

func runCheck(ctx context.Context, log *logrus.Logger, cmd *cobra.Command, _ []string) error {
	u, err := newUpdater(log, cmd)
	if err != nil {
		return err
	}
	currentVersion := must(cmd.Flags().GetString("current-version"))
	if currentVersion == "" {
		return errors.New("no current version provided")
	}
	hostVersion := must(cmd.Flags().GetString("host-version"))
	a, ok := u.CheckForUpdate(ctx, currentVersion, hostVersion)
	if !ok {
		log.Infof("no update available for %s", must(cmd.Flags().GetString("plugin")))
		return nil
	}
	return printJSON(a)
}

func runInvalidate(_ context.Context, log *logrus.Logger, cmd *cobra.Command, _ []string) error {
	u, err := newUpdater(log, cmd)
	if err != nil {
		return err
	}
	if err := u.Invalidate(); err != nil {
		return err
	}
	log.Infof("cache entry %s removed", updater.CacheKey(must(cmd.Flags().GetString("plugin"))))
	return nil
}

func runVersions(ctx context.Context, _ *logrus.Logger, cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	versions, err := c.ListVersions(ctx, args[0], must(cmd.Flags().GetString("constraint")))
	if err != nil {
		return err
	}
	for _, v := range versions {
		fmt.Println(v)
	}
	return nil
}

func runImport(ctx context.Context, log *logrus.Logger, cmd *cobra.Command, args []string) error {
	adminAccessToken := must(cmd.Flags().GetString("admin-access-token"))
	if adminAccessToken == "" {
		return errors.New("no admin access token provided")
	}
	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	stub := args[0]
	pluginVersion := must(cmd.Flags().GetString("plugin-version"))
	if pluginVersion == "" {
		log.Warnf("importing all releases of %s...", stub)
	} else {
		log.Infof("importing %s@%s...", stub, pluginVersion)
	}
	versions, err := c.ImportRelease(ctx, adminAccessToken, stub, pluginVersion)
	if err != nil {
		return err
	}
	log.Infof("imported versions: %s", strings.Join(versions, ", "))
	return nil
}

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stderr)

	cmd := &cobra.Command{
		Use:     "plugin-update-check",
		Short:   "Query a plugin update server the way an installed plugin does",
		Version: version,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	cmd.PersistentFlags().StringP("server-url", "s", os.Getenv("PLUGIN_UPDATE_SERVER_URL"), "the update server URL")
	cmd.PersistentFlags().StringP("plugin", "p", "", "the plugin identifier, e.g. my-plugin/my-plugin.php")
	cmd.PersistentFlags().String("cache-path", defaultCachePath(), "path of the update cache database")
	cmd.PersistentFlags().Bool("verbose", false, "enable debug logging")
	cmd.PersistentFlags().SortFlags = false

	detailsCmd := &cobra.Command{
		Use:   "details",
		Short: "Print the plugin information record",
		Args:  cobra.NoArgs,
		Run:   wrapRun(log, runDetails),
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check whether an update is available",
		Args:  cobra.NoArgs,
		Run:   wrapRun(log, runCheck),
	}
	checkCmd.Flags().StringP("current-version", "c", "", "the installed plugin version")
	checkCmd.Flags().String("host-version", "", "the host platform version")

	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Drop the cached update metadata",
		Args:  cobra.NoArgs,
		Run:   wrapRun(log, runInvalidate),
	}

	versionsCmd := &cobra.Command{
		Use:   "versions <stub>",
		Short: "List the released versions of a plugin",
		Args:  cobra.ExactArgs(1),
		Run:   wrapRun(log, runVersions),
	}
	versionsCmd.Flags().String("constraint", "", "semver constraint to filter versions, e.g. ^1.2")

	importCmd := &cobra.Command{
		Use:   "import <stub>",
		Short: "Trigger an import of GitHub releases on the update server",
		Args:  cobra.ExactArgs(1),
		Run:   wrapRun(log, runImport),
	}
	importCmd.Flags().String("admin-access-token", os.Getenv("PLUGIN_UPDATE_SERVER_ADMIN_ACCESS_TOKEN"), "admin access token")
	importCmd.Flags().StringP("plugin-version", "v", "", "the plugin version, all releases if empty")

	cmd.AddCommand(detailsCmd, checkCmd, invalidateCmd, versionsCmd, importCmd)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
