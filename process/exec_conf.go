package process

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/opdss/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"github.com/zeebo/structs"
	"go.uber.org/zap"

	"github.com/opdss/pubsub/cfgstruct"
	"github.com/opdss/pubsub/logger"
)

// DefaultCfgFilename is the default filename used for storing a configuration.
const DefaultCfgFilename = "config.yaml"

// DefaultEnvPrefix is used when ENV_PREFIX is not set.
const DefaultEnvPrefix = "pubsub"

var (
	commandMtx sync.Mutex
	contexts   = map[*cobra.Command]context.Context{}
	cancels    = map[*cobra.Command]context.CancelFunc{}
	configs    = map[*cobra.Command][]interface{}{}
	vipers     = map[*cobra.Command]*viper.Viper{}
	loggers    = map[*cobra.Command]*zap.Logger{}
)

// Bind sets flags on a command that match the configuration struct
// 'config'. It ensures that the config has all of the values loaded into it
// when the command runs.
func Bind(cmd *cobra.Command, config interface{}, opts ...cfgstruct.BindOpt) {
	commandMtx.Lock()
	defer commandMtx.Unlock()

	cfgstruct.Bind(cmd.Flags(), config, opts...)
	configs[cmd] = append(configs[cmd], config)
}

// ExecOptions contains options for ExecWithCustomOptions.
type ExecOptions struct {
	FailOnValueError bool

	LoadConfig    func(cmd *cobra.Command, vip *viper.Viper) error
	LoggerFactory func(*zap.Logger) *zap.Logger
}

// Exec runs a Cobra command. If a "config-dir" flag is defined it will be parsed
// and loaded using viper. Log flags ("log.*") are added to cmd.
func Exec(cmd *cobra.Command) {
	ExecWithCustomOptions(cmd, ExecOptions{LoadConfig: LoadConfig})
}

// ExecWithCustomOptions runs a Cobra command with custom options.
func ExecWithCustomOptions(cmd *cobra.Command, opts ExecOptions) {
	if opts.LoadConfig == nil {
		opts.LoadConfig = LoadConfig
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "version",
		Short:       "output the version's build information, if any",
		RunE:        cmdVersion,
		Annotations: map[string]string{"type": "setup"}})

	exe, err := os.Executable()
	if err == nil && cmd.Use == "" {
		cmd.Use = filepath.Base(exe)
	}

	var logConfig logger.Config
	cfgstruct.Bind(cmd.PersistentFlags(), &logConfig, cfgstruct.DefaultsFlag(cmd), cfgstruct.Prefix("log."))

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	cleanup(cmd, &logConfig, &opts)
	err = cmd.Execute()

	if err != nil {
		os.Exit(1)
	}
}

// Ctx returns the appropriate context.Context for Exec commands. It is
// canceled on SIGINT or SIGTERM.
func Ctx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	commandMtx.Lock()
	defer commandMtx.Unlock()

	ctx := contexts[cmd]
	if ctx == nil {
		ctx = context.Background()
		contexts[cmd] = ctx
	}

	cancel := cancels[cmd]
	if cancel == nil {
		ctx, cancel = context.WithCancel(ctx)
		contexts[cmd] = ctx
		cancels[cmd] = cancel

		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-c:
				log.Printf("Got a signal from the OS: %q", sig)
				cancel()
			case <-ctx.Done():
			}
			signal.Stop(c)
		}()
	}

	return ctx, cancel
}

// Logger returns the logger configured for a running command, or zap.L()
// outside of Exec.
func Logger(cmd *cobra.Command) *zap.Logger {
	commandMtx.Lock()
	defer commandMtx.Unlock()
	if l := loggers[cmd]; l != nil {
		return l
	}
	return zap.L()
}

// Viper returns the appropriate *viper.Viper for the command, creating if necessary.
func Viper(cmd *cobra.Command) (*viper.Viper, error) {
	return ViperWithCustomConfig(cmd, LoadConfig)
}

// ViperWithCustomConfig returns the appropriate *viper.Viper for the command, creating if necessary. Custom
// config load logic can be defined with "loadConfig" parameter.
func ViperWithCustomConfig(cmd *cobra.Command, loadConfig func(cmd *cobra.Command, vip *viper.Viper) error) (*viper.Viper, error) {
	commandMtx.Lock()
	defer commandMtx.Unlock()

	if vip := vipers[cmd]; vip != nil {
		return vip, nil
	}

	vip := viper.New()
	if err := vip.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}

	prefix := os.Getenv("ENV_PREFIX")
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}

	vip.SetEnvPrefix(prefix)
	vip.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	vip.AutomaticEnv()

	err := loadConfig(cmd, vip)
	if err != nil {
		return nil, err
	}

	vipers[cmd] = vip
	return vip, nil
}

// LoadConfig loads configuration into *viper.Viper from file specified with "config-dir" flag.
func LoadConfig(cmd *cobra.Command, vip *viper.Viper) error {
	cfgFlag := cmd.Flags().Lookup("config-dir")
	if cfgFlag == nil || cfgFlag.Value.String() == "" {
		return nil
	}
	path := filepath.Join(os.ExpandEnv(cfgFlag.Value.String()), DefaultCfgFilename)
	exists, err := fileExists(path)
	if err != nil || !exists {
		return err
	}
	setupCommand := cmd.Annotations["type"] == "setup"
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil && !setupCommand {
		return err
	}
	return nil
}

func cleanup(cmd *cobra.Command, logConfig *logger.Config, opts *ExecOptions) {
	for _, ccmd := range cmd.Commands() {
		cleanup(ccmd, logConfig, opts)
	}
	if cmd.Run != nil {
		panic("Please use cobra's RunE instead of Run")
	}
	internalRun := cmd.RunE
	if internalRun == nil {
		return
	}

	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		vip, err := ViperWithCustomConfig(cmd, opts.LoadConfig)
		if err != nil {
			return err
		}

		commandMtx.Lock()
		configValues := configs[cmd]
		commandMtx.Unlock()

		var (
			brokenKeys  = map[string]struct{}{}
			missingKeys = map[string]struct{}{}
			usedKeys    = map[string]struct{}{}
			allSettings = vip.AllSettings()
		)

		for _, config := range configValues {
			res := structs.Decode(allSettings, config)
			for key := range res.Used {
				usedKeys[key] = struct{}{}
			}
			for key := range res.Missing {
				missingKeys[key] = struct{}{}
			}
			for key := range res.Broken {
				brokenKeys[key] = struct{}{}
			}
		}

		// Config values for flags bound outside of Bind (log.*) are pushed
		// into the flags themselves.
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if f.Changed || !vip.IsSet(f.Name) {
				return
			}
			val := vip.GetString(f.Name)
			if f.Value.Type() == "stringSlice" {
				val = strings.Join(vip.GetStringSlice(f.Name), ",")
			}
			if err := f.Value.Set(val); err != nil {
				brokenKeys[f.Name] = struct{}{}
				return
			}
			usedKeys[f.Name] = struct{}{}
		})
		// viper reports every bound flag as a setting; only keys that match
		// neither a struct field nor a flag are unknown to the command.
		for key := range missingKeys {
			if _, ok := usedKeys[key]; ok || cmd.Flags().Lookup(key) != nil {
				delete(missingKeys, key)
			}
		}

		zlog, err := logger.New(*logConfig)
		if err != nil {
			return err
		}
		if opts.LoggerFactory != nil {
			zlog = opts.LoggerFactory(zlog)
		}

		if vip.ConfigFileUsed() != "" {
			path, err := filepath.Abs(vip.ConfigFileUsed())
			if err != nil {
				path = vip.ConfigFileUsed()
				zlog.Debug("unable to resolve path", zap.Error(err))
			}

			zlog.Info("Configuration loaded", zap.String("Location", path))
		}

		defer func() { _ = zlog.Sync() }()
		defer zap.ReplaceGlobals(zlog)()
		defer zap.RedirectStdLog(zlog)()

		if cmd.Annotations["type"] != "helper" {
			for key := range missingKeys {
				zlog.Info("Invalid configuration file key", zap.String("Key", key))
			}
		}
		for key := range brokenKeys {
			if opts.FailOnValueError {
				return errs.New("Invalid configuration file value for key: %s", key)
			}
			zlog.Info("Invalid configuration file value for key", zap.String("Key", key))
		}

		commandMtx.Lock()
		loggers[cmd] = zlog
		commandMtx.Unlock()
		defer func() {
			commandMtx.Lock()
			if cancel := cancels[cmd]; cancel != nil {
				cancel()
			}
			delete(contexts, cmd)
			delete(cancels, cmd)
			delete(loggers, cmd)
			commandMtx.Unlock()
		}()

		// past this point failures are reported through the logger only
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true

		err = internalRun(cmd, args)
		if err != nil {
			zlog.Error("Unrecoverable error", zap.Error(err))
			return err
		}

		return nil
	}
}

func cmdVersion(cmd *cobra.Command, args []string) (err error) {
	_, err = fmt.Fprintln(cmd.OutOrStdout(), version.Build)
	return err
}
