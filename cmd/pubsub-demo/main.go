package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/zeebo/errs"

	"github.com/opdss/pubsub/eventbus"
	"github.com/opdss/pubsub/process"
	"github.com/opdss/pubsub/scenario"
	"github.com/opdss/pubsub/schema"
)

type RunConfig struct {
	Bus      eventbus.Config
	Scenario string `help:"场景脚本路径,为空时运行内置示例" default:""`
}

var (
	rootCmd = &cobra.Command{
		Use:   "pubsub-demo",
		Short: "in-process publish/subscribe demo",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "register the sample handlers and run a scenario script",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:         "setup",
		Short:       "write the current configuration to --config-dir",
		RunE:        cmdSetup,
		Annotations: map[string]string{"type": "setup"},
	}

	runCfg  RunConfig
	confDir string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", "", "directory containing "+process.DefaultCfgFilename)
	rootCmd.AddCommand(runCmd, setupCmd)
	process.Bind(runCmd, &runCfg)
	process.Bind(setupCmd, &runCfg)
}

func main() {
	process.Exec(rootCmd)
}

func cmdRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := process.Ctx(cmd)
	defer cancel()
	log := process.Logger(cmd)

	bus := eventbus.New(log, runCfg.Bus)
	registerHandlers(bus, cmd.OutOrStdout())

	script, err := loadScript(runCfg.Scenario)
	if err != nil {
		return err
	}
	return scenario.NewRunner(log, bus).Run(ctx, script)
}

func loadScript(path string) (*scenario.Script, error) {
	if path == "" {
		return scenario.LoadReference(schema.Default())
	}
	return scenario.LoadFile(path, schema.Default())
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	if confDir == "" {
		return errs.New("--config-dir is required")
	}
	return process.SaveConfig(cmd, filepath.Join(confDir, process.DefaultCfgFilename))
}
