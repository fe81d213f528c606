package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/aristath/macroecon/internal/catalog"
	"github.com/aristath/macroecon/internal/cli/ui"
	"github.com/aristath/macroecon/internal/di"
	"github.com/aristath/macroecon/internal/series"
)

func newTreeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "List, show and manage series trees",
	}
	cmd.AddCommand(newTreeListCommand(a))
	cmd.AddCommand(newTreeShowCommand(a))
	cmd.AddCommand(newTreeExportCommand(a))
	cmd.AddCommand(newTreeSaveCommand(a))
	cmd.AddCommand(newTreeDeleteCommand(a))
	return cmd
}

// loadTree resolves a built-in tree first, then a saved one.
func loadTree(c *di.Container, name string) (*series.Node, error) {
	if c.Registry.Has(name) {
		return c.Registry.Build(name)
	}
	root, err := c.Catalog.LoadTree(name)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("unknown tree %q (see 'macroecon tree list')", name)
	}
	return root, nil
}

// treeSource builds built-in and saved trees by name.
type treeSource struct{ c *di.Container }

func (s treeSource) Build(name string) (*series.Node, error) {
	return loadTree(s.c, name)
}

// loadNode resolves a tree and, when code is set, the node under it.
func loadNode(c *di.Container, name, code string) (*series.Node, error) {
	root, err := loadTree(c, name)
	if err != nil {
		return nil, err
	}
	if code == "" {
		return root, nil
	}
	node := root.Find(code)
	if node == nil {
		return nil, fmt.Errorf("tree %s has no node %q", name, code)
	}
	return node, nil
}

func newTreeListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List built-in and saved trees",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}

			table := ui.NewTable(cmd.OutOrStdout(), a.noColor, "NAME", "KIND", "ROOT", "NODES", "SAVED")
			table.SetAlign(3, ui.AlignRight)
			for _, name := range c.Registry.Names() {
				root, err := c.Registry.Build(name)
				if err != nil {
					return err
				}
				table.AddRow(name, "builtin", root.Code, strconv.Itoa(root.Size()), "-")
			}

			saved, err := c.Catalog.ListTrees()
			if err != nil {
				return err
			}
			for _, info := range saved {
				table.AddRow(info.Name, "saved", info.RootCode, strconv.Itoa(info.NodeCount), info.SavedAt.Local().Format("2006-01-02 15:04"))
			}

			table.Render()
			return nil
		},
	}
}

func newTreeShowCommand(a *app) *cobra.Command {
	var (
		code   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "show <tree>",
		Short: "Print a tree or one of its subtrees",
		Example: `  macroecon tree show cpi
  macroecon tree show cpi --code CPI_FOOD --format text
  macroecon tree show gdp --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			node, err := loadNode(c, args[0], code)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			switch format {
			case "tree":
				fmt.Fprintln(w, ui.RenderTree(node))
			case "text":
				fmt.Fprintln(w, node.PrintTree())
			case "json":
				return writeJSON(w, node)
			default:
				return fmt.Errorf("unknown format %q (want tree, text or json)", format)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&code, "code", "", "Show the subtree rooted at this node code")
	cmd.Flags().StringVarP(&format, "format", "f", "tree", "Output format: tree, text or json")
	return cmd
}

func newTreeExportCommand(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <tree>",
		Short: "Write a tree as JSON, ready for 'tree save'",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			root, err := loadTree(c, args[0])
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				return writeJSON(cmd.OutOrStdout(), root)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := writeJSON(f, root); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			ui.Success(cmd.ErrOrStderr(), a.noColor, "Exported %s (%d nodes) to %s", args[0], root.Size(), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func newTreeSaveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "save <name> <file>",
		Short: "Save a JSON tree to the catalog under name",
		Long: `Save a JSON tree to the catalog. The file uses the same layout as
'tree export'. Use "-" to read from stdin. Saving over an existing saved tree
replaces it; built-in names are reserved.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			if c.Registry.Has(name) {
				return fmt.Errorf("%q is a built-in tree", name)
			}

			var data []byte
			if path == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(path)
			}
			if err != nil {
				return err
			}

			root, err := series.ParseJSON(data)
			if err != nil {
				return err
			}
			if err := root.Validate(); err != nil {
				return err
			}
			if err := c.Catalog.SaveTree(name, root); err != nil {
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Saved %s (%d nodes)", name, root.Size())
			return nil
		},
	}
}

func newTreeDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a saved tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := a.services(cmd)
			if err != nil {
				return err
			}
			if c.Registry.Has(args[0]) {
				return fmt.Errorf("%q is a built-in tree", args[0])
			}
			if err := c.Catalog.DeleteTree(args[0]); err != nil {
				if errors.Is(err, catalog.ErrTreeNotFound) {
					return fmt.Errorf("no saved tree %q", args[0])
				}
				return err
			}
			ui.Success(cmd.OutOrStdout(), a.noColor, "Deleted %s", args[0])
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
