// Package cfgstruct binds configuration structs to command line flags. Fields
// are described with struct tags:
//
//	help:"..."            flag usage
//	default:"..."         default value (development)
//	releaseDefault:"..."  default value when release defaults are selected
//	devDefault:"..."      overrides default for development only
//	internal:"true"       not exposed as a flag
//
// Nested structs become dotted flag names: field Log.MaxSize binds to
// "log.max-size". Defaults may reference $ROOT, $CONFDIR and any other
// variable set with ConfigVar.
package cfgstruct

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type bindConfig struct {
	release bool
	prefix  string
	vars    map[string]string
}

// BindOpt is an option for Bind.
type BindOpt func(*bindConfig)

// UseDevDefaults selects development defaults.
func UseDevDefaults() BindOpt {
	return func(c *bindConfig) { c.release = false }
}

// UseReleaseDefaults selects release defaults.
func UseReleaseDefaults() BindOpt {
	return func(c *bindConfig) { c.release = true }
}

// Prefix prepends prefix to every flag name, e.g. "log.".
func Prefix(prefix string) BindOpt {
	return func(c *bindConfig) { c.prefix = prefix }
}

// ConfigVar makes $name expand to value inside default tags.
func ConfigVar(name, value string) BindOpt {
	return func(c *bindConfig) { c.vars[name] = value }
}

// ConfDir sets $CONFDIR.
func ConfDir(path string) BindOpt {
	return ConfigVar("CONFDIR", os.ExpandEnv(path))
}

// Bind registers a flag for every exported field of the struct config
// points to. Parsed flag values are written straight into the struct.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	c := &bindConfig{vars: map[string]string{}}
	for _, opt := range opts {
		opt(c)
	}
	if _, ok := c.vars["ROOT"]; !ok {
		if wd, err := os.Getwd(); err == nil {
			c.vars["ROOT"] = wd
		}
	}

	ptr := reflect.ValueOf(config)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Struct {
		panic(fmt.Sprintf("cfgstruct: Bind requires a pointer to a struct, got %T", config))
	}
	bindStruct(flags, c, c.prefix, ptr.Elem())
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindStruct(flags *pflag.FlagSet, c *bindConfig, prefix string, val reflect.Value) {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		if !field.IsExported() || field.Tag.Get("internal") == "true" {
			continue
		}
		fieldVal := val.Field(i)
		name := prefix + hyphenate(snakeCase(field.Name))

		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			bindStruct(flags, c, name+".", fieldVal)
			continue
		}

		help := field.Tag.Get("help")
		def := c.expand(c.defaultFor(field))
		addr := fieldVal.Addr().Interface()

		switch ptr := addr.(type) {
		case *string:
			flags.StringVar(ptr, name, def, help)
		case *bool:
			flags.BoolVar(ptr, name, mustParse(name, def, cast.ToBoolE), help)
		case *int:
			flags.IntVar(ptr, name, mustParse(name, def, cast.ToIntE), help)
		case *int64:
			flags.Int64Var(ptr, name, mustParse(name, def, cast.ToInt64E), help)
		case *uint:
			flags.UintVar(ptr, name, mustParse(name, def, cast.ToUintE), help)
		case *uint64:
			flags.Uint64Var(ptr, name, mustParse(name, def, cast.ToUint64E), help)
		case *float64:
			flags.Float64Var(ptr, name, mustParse(name, def, cast.ToFloat64E), help)
		case *time.Duration:
			flags.DurationVar(ptr, name, mustParse(name, def, cast.ToDurationE), help)
		case *[]string:
			var list []string
			if def != "" {
				list = strings.Split(def, ",")
			}
			flags.StringSliceVar(ptr, name, list, help)
		default:
			panic(fmt.Sprintf("cfgstruct: field %s has unsupported type %s", name, field.Type))
		}
	}
}

func (c *bindConfig) defaultFor(field reflect.StructField) string {
	if c.release {
		if v, ok := field.Tag.Lookup("releaseDefault"); ok {
			return v
		}
	} else if v, ok := field.Tag.Lookup("devDefault"); ok {
		return v
	}
	return field.Tag.Get("default")
}

func (c *bindConfig) expand(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := c.vars[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}

func mustParse[T any](name, def string, parse func(interface{}) (T, error)) T {
	if def == "" {
		var zero T
		return zero
	}
	v, err := parse(def)
	if err != nil {
		panic(fmt.Sprintf("cfgstruct: invalid default %q for %s: %v", def, name, err))
	}
	return v
}

// snakeCase converts CamelCase to snake_case, keeping acronyms together:
// "MaxIdleConn" -> "max_idle_conn", "UserID" -> "user_id".
func snakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

func hyphenate(name string) string {
	return strings.ReplaceAll(name, "_", "-")
}

// DefaultsFlag registers the --defaults flag on cmd and returns the BindOpt
// matching the value found on the command line, so flags bound afterwards
// get the right defaults before cobra parses anything.
func DefaultsFlag(cmd *cobra.Command) BindOpt {
	defaults := "dev"
	for i, arg := range os.Args {
		switch {
		case strings.HasPrefix(arg, "--defaults="):
			defaults = strings.TrimPrefix(arg, "--defaults=")
		case arg == "--defaults" && i+1 < len(os.Args):
			defaults = os.Args[i+1]
		}
	}
	cmd.PersistentFlags().String("defaults", defaults, "determines which set of configuration defaults to use. can be [dev|release]")

	switch defaults {
	case "release":
		return UseReleaseDefaults()
	case "dev":
		return UseDevDefaults()
	}
	panic(fmt.Sprintf("cfgstruct: unsupported defaults value %q", defaults))
}
