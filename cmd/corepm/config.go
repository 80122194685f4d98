package main

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

// configCmd is the parent for "config get"/"config set", grounded on
// configuration/parser.go's reflect-over-struct-tags walk (config.go's
// applyEnvOverrides), reused here to read/write a single field by its yaml
// tag name instead of an environment variable.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read or write project configuration (.corepmrc.yml)",
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one configuration field's effective value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		cfg, err := loadConfig(root)
		if err != nil {
			return err
		}
		val, ok := fieldByYAMLTag(cfg, args[0])
		if !ok {
			return fmt.Errorf("config: unknown key %q", args[0])
		}
		fmt.Println(val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Write one configuration field into the project's .corepmrc.yml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		path := filepath.Join(root, ".corepmrc.yml")

		values := map[string]any{}
		if data, err := os.ReadFile(path); err == nil {
			if err := yaml.Unmarshal(data, &values); err != nil {
				return fmt.Errorf("parsing existing %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return err
		}

		values[args[0]] = args[1]
		out, err := yaml.Marshal(values)
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return err
		}
		reportInfo("set %s = %s in %s", args[0], args[1], path)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd)
}

// fieldByYAMLTag looks up v's field whose "yaml" struct tag matches key
// (before any comma option), returning its value formatted for display.
func fieldByYAMLTag(v any, key string) (string, bool) {
	rv := reflect.ValueOf(v)
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		tag := strings.SplitN(sf.Tag.Get("yaml"), ",", 2)[0]
		if tag == key {
			fv := rv.Field(i)
			if fv.Kind() == reflect.Ptr {
				if fv.IsNil() {
					return "<unset>", true
				}
				return fmt.Sprint(fv.Elem().Interface()), true
			}
			return fmt.Sprint(fv.Interface()), true
		}
	}
	return "", false
}
