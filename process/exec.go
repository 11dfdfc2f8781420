package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/zeebo/errs"
	"gopkg.in/yaml.v2"
)

func init() {
	cobra.MousetrapHelpText = "This is a command line tool.\n\n" +
		"This needs to be run from a Command Prompt.\n"

	exe, err := os.Executable()
	if err == nil {
		cobra.MousetrapHelpText += fmt.Sprintf(
			"Try running \"%s help\" for more information\n", exe)
	}
}

// fileExists reports whether path exists. Errors other than "not exist" are
// returned to the caller.
func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.New("failed to check for file existence: %v", err)
	}
	return true, nil
}

// skippedFlags are never written to a saved configuration file.
var skippedFlags = map[string]bool{
	"config-dir": true,
	"defaults":   true,
	"help":       true,
}

// SaveConfig writes the current flag values of cmd as a nested YAML document
// to outfile. Dotted flag names become nested keys.
func SaveConfig(cmd *cobra.Command, outfile string) error {
	values := map[string]interface{}{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if skippedFlags[f.Name] {
			return
		}
		values[f.Name] = flagValue(cmd.Flags(), f)
	})

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	root := yaml.MapSlice{}
	for _, key := range keys {
		root = insertKey(root, strings.Split(key, "."), values[key])
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return errs.Wrap(err)
	}
	if err := os.MkdirAll(filepath.Dir(outfile), 0o755); err != nil {
		return errs.Wrap(err)
	}
	return atomicWriteFile(outfile, data, 0o644)
}

// flagValue keeps scalar flag types so the YAML round-trips through viper.
func flagValue(flags *pflag.FlagSet, f *pflag.Flag) interface{} {
	switch f.Value.Type() {
	case "bool":
		return cast.ToBool(f.Value.String())
	case "int", "int64", "uint", "uint64":
		return cast.ToInt64(f.Value.String())
	case "float64":
		return cast.ToFloat64(f.Value.String())
	case "stringSlice":
		list, _ := flags.GetStringSlice(f.Name)
		return list
	}
	return f.Value.String()
}

func insertKey(m yaml.MapSlice, path []string, value interface{}) yaml.MapSlice {
	if len(path) == 1 {
		return append(m, yaml.MapItem{Key: path[0], Value: value})
	}
	for i := range m {
		if m[i].Key == path[0] {
			if child, ok := m[i].Value.(yaml.MapSlice); ok {
				m[i].Value = insertKey(child, path[1:], value)
				return m
			}
		}
	}
	return append(m, yaml.MapItem{Key: path[0], Value: insertKey(nil, path[1:], value)})
}

// atomicWriteFile is a helper to atomically write the data to the outfile.
func atomicWriteFile(outfile string, data []byte, mode os.FileMode) (err error) {
	fh, err := os.CreateTemp(filepath.Dir(outfile), filepath.Base(outfile))
	if err != nil {
		return errs.Wrap(err)
	}
	needsClose, needsRemove := true, true

	defer func() {
		if needsClose {
			err = errs.Combine(err, errs.Wrap(fh.Close()))
		}
		if needsRemove {
			err = errs.Combine(err, errs.Wrap(os.Remove(fh.Name())))
		}
	}()

	if _, err := fh.Write(data); err != nil {
		return errs.Wrap(err)
	}
	if err := fh.Chmod(mode); err != nil {
		return errs.Wrap(err)
	}

	needsClose = false
	if err := fh.Close(); err != nil {
		return errs.Wrap(err)
	}

	if err := os.Rename(fh.Name(), outfile); err != nil {
		return errs.Wrap(err)
	}
	needsRemove = false

	return nil
}
