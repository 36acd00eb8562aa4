package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/JackSmack1971/personal-rag-copilot/internal/config"
	ragerrors "github.com/JackSmack1971/personal-rag-copilot/internal/errors"
	"github.com/JackSmack1971/personal-rag-copilot/internal/output"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Inspect and change ragcopilot settings.

Settings resolve in four layers, later layers winning:
  defaults     built-in values overlaid with the settings file
  environment  RAG_* variables and .env files
  cli          --set key=value
  runtime      changes made while serving (operator or auto-tuner)

"config set" writes the settings file after validating the change, and
keeps a timestamped backup of the previous file for "config rollback".`,
	}

	cmd.AddCommand(newConfigShowCmd(root))
	cmd.AddCommand(newConfigGetCmd(root))
	cmd.AddCommand(newConfigSetCmd(root))
	cmd.AddCommand(newConfigRollbackCmd(root))
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigBackupCmd(root))
	cmd.AddCommand(newConfigBackupsCmd(root))
	cmd.AddCommand(newConfigRestoreCmd(root))
	cmd.AddCommand(newConfigResetCmd(root))
	cmd.AddCommand(newConfigPathCmd(root))
	return cmd
}

func newConfigShowCmd(root *rootOptions) *cobra.Command {
	var layers, asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show resolved settings",
		Example: `  ragcopilot config show
  ragcopilot config show --layers
  ragcopilot --set top_k=10 config show --json`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := root.openConfig()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())

			if layers {
				byLayer := make(map[string]map[string]string)
				for _, l := range config.Layers() {
					byLayer[l.String()] = config.Flatten(store.Layer(l))
				}
				if asJSON {
					return out.JSON(byLayer)
				}
				for i, l := range config.Layers() {
					if i > 0 {
						out.Newline()
					}
					out.Settings(l.String(), byLayer[l.String()])
				}
				return nil
			}

			resolved := config.Flatten(store.Resolved())
			if asJSON {
				return out.JSON(resolved)
			}
			out.Settings(fmt.Sprintf("Resolved settings (version %d)", store.Version()), resolved)
			return nil
		},
	}

	cmd.Flags().BoolVar(&layers, "layers", false, "Show each layer separately")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newConfigGetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one resolved setting",
		Example: `  ragcopilot config get top_k
  ragcopilot config get performance_policy.target_p95_ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := root.openConfig()
			if err != nil {
				return err
			}
			v, ok, err := store.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				v = "(unset)"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v)
			return err
		},
	}
}

func newConfigSetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting in the settings file",
		Long: `Validate a change against the full resolved configuration, back up the
current settings file, then write the new value. A rejected change leaves
the file untouched.`,
		Example: `  ragcopilot config set top_k 8
  ragcopilot config set enable_rerank true
  ragcopilot config set tuner_locks top_k,rrf_k`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			store, err := root.openConfig()
			if err != nil {
				return err
			}
			// Stage through the store so bounds are checked before the file changes.
			if err := store.Set(config.LayerDefaults, key, value); err != nil {
				return err
			}

			paths := root.paths()
			file, err := config.LoadSettingsFile(paths.SettingsPath)
			switch {
			case err == nil:
				if _, err := config.BackupSettings(paths.SettingsPath, paths.BackupDir); err != nil {
					return err
				}
			case ragerrors.GetCode(err) == ragerrors.ErrCodeConfigNotFound:
				file = config.Settings{}
			default:
				return err
			}

			if err := file.Set(key, value); err != nil {
				return err
			}
			if err := config.WithLock(paths.SettingsPath, func() error {
				return config.WriteSettingsFile(paths.SettingsPath, file)
			}); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("%s = %s", key, value)
			return nil
		},
	}
}

func newConfigRollbackCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback [steps]",
		Short: "Restore the settings file from before the last change",
		Long: `Restore the settings file as it was before the last N changes (default 1).
Fails without touching anything if fewer than N backups exist.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return ragerrors.ValidationError(fmt.Sprintf("steps must be a positive integer, got %q", args[0]), err)
				}
				steps = n
			}

			paths := root.paths()
			backups, err := config.ListBackups(paths.SettingsPath, paths.BackupDir)
			if err != nil {
				return err
			}
			if steps > len(backups) {
				return ragerrors.RollbackError(steps, len(backups))
			}
			if err := config.RestoreSettings(backups[steps-1], paths.SettingsPath); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Restored settings from %s", filepath.Base(backups[steps-1]))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a settings file without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := config.LoadSettingsFile(args[0])
			if err != nil {
				return err
			}
			defaults, err := config.DefaultSettings()
			if err != nil {
				return err
			}
			out := output.New(cmd.OutOrStdout())
			if errs := (config.DefaultValidator{}).Validate(config.Merge(defaults, file)); len(errs) > 0 {
				for _, k := range errs.Keys() {
					out.Errorf("%s: %s", k, errs[k])
				}
				return ragerrors.ConfigValidationError(errs)
			}
			out.Successf("%s is valid", args[0])
			return nil
		},
	}
}

func newConfigBackupCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up the settings file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := root.paths()
			backup, err := config.BackupSettings(paths.SettingsPath, paths.BackupDir)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Backed up to %s", backup)
			return nil
		},
	}
}

func newConfigBackupsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List settings backups, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := root.paths()
			backups, err := config.ListBackups(paths.SettingsPath, paths.BackupDir)
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				output.New(cmd.OutOrStdout()).Status("", "No backups yet.")
				return nil
			}
			for i, b := range backups {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d  %s\n", i+1, filepath.Base(b))
			}
			return nil
		},
	}
}

func newConfigRestoreCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <backup>",
		Short: "Restore the settings file from a named backup",
		Long:  `Restore from a backup path, or from a file name listed by "config backups".`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := root.paths()
			src := args[0]
			if filepath.Base(src) == src {
				src = filepath.Join(paths.BackupDir, src)
			}
			if err := config.RestoreSettings(src, paths.SettingsPath); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Restored settings from %s", filepath.Base(src))
			return nil
		},
	}
}

func newConfigResetCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Remove the settings file so built-in defaults apply",
		Long:  `Back up and remove the settings file. Undo with "config rollback".`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := root.paths()
			out := output.New(cmd.OutOrStdout())
			if _, err := os.Stat(paths.SettingsPath); os.IsNotExist(err) {
				out.Status("", "No settings file; defaults already apply.")
				return nil
			}
			if _, err := config.BackupSettings(paths.SettingsPath, paths.BackupDir); err != nil {
				return err
			}
			if err := config.WithLock(paths.SettingsPath, func() error {
				return os.Remove(paths.SettingsPath)
			}); err != nil {
				return fmt.Errorf("failed to remove settings file: %w", err)
			}
			out.Success("Settings reset to defaults")
			return nil
		},
	}
}

func newConfigPathCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show where settings, backups and data live",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths := root.paths()
			output.New(cmd.OutOrStdout()).Settings("Paths", map[string]string{
				"settings": paths.SettingsPath,
				"backups":  paths.BackupDir,
				"data":     paths.DataDir,
				"metrics":  paths.MetricsPath(),
			})
			return nil
		},
	}
}
