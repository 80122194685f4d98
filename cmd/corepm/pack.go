package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/corepm/corepm/formats"
	"github.com/corepm/corepm/manifest"
)

var packOut string

// packCmd snapshots the current project directory into a distributable
// archive, the same node_modules/.git-excluding walk protocol/folder.Fetch
// uses to snapshot a "file:" dependency, reused here at the top level
// instead of bound to a parent locator.
var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Pack the current project into a distributable archive",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := projectRoot()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(filepath.Join(root, "package.json"))
		if err != nil {
			return err
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return err
		}

		entries, err := snapshotProject(root)
		if err != nil {
			return err
		}
		archive, err := formats.WriteZip(entries)
		if err != nil {
			return err
		}

		out := packOut
		if out == "" {
			name := strings.ReplaceAll(strings.TrimPrefix(m.Name, "@"), "/", "-")
			out = fmt.Sprintf("%s-%s.zip", name, m.Version)
		}
		if err := os.WriteFile(out, archive, 0o644); err != nil {
			return err
		}
		reportInfo("wrote %s (%d entries)", out, len(entries))
		return nil
	},
}

func init() {
	packCmd.Flags().StringVar(&packOut, "out", "", "output archive path (default: <name>-<version>.zip)")
}

// snapshotProject walks root, skipping node_modules, .git, .yarn, and any
// .zip or .tgz file (such as a previously-written pack archive), the same directory-snapshot shape
// protocol/folder.snapshot uses for a "file:" dependency.
func snapshotProject(root string) ([]formats.Entry, error) {
	var out []formats.Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			switch rel {
			case "node_modules", ".git", ".yarn":
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(rel, ".zip") || strings.HasSuffix(rel, ".tgz") {
			return nil
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, formats.Entry{
			Name:       filepath.ToSlash(rel),
			Mode:       uint32(info.Mode().Perm()),
			Executable: info.Mode()&0o111 != 0,
			Body:       body,
		})
		return nil
	})
	return out, err
}
