package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"csvconf/internal/datasource"
	"csvconf/internal/load"
	"csvconf/internal/schema"
	"csvconf/internal/session"
	"csvconf/internal/sidecar"
	"csvconf/internal/storage"
	"csvconf/internal/watch"
)

func newInspectCmd(g *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Show columns, effective types, roles and a preview",
		Args:  exactArgs(1, "file"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			c := a.controller()
			s, err := c.Open(ctx, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = c.Discard(s) }()
			if asJSON {
				return renderJSON(a.out, s)
			}
			renderText(a.out, s)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of tables")
	return cmd
}

// resolveColumn accepts a zero-based index or a header name. A name that
// matches a header wins over its numeric reading.
func resolveColumn(s *schema.Schema, arg string) (int, error) {
	if i := s.IndexOf(arg); i >= 0 {
		return i, nil
	}
	if i, err := strconv.Atoi(arg); err == nil {
		if i < 0 || i >= s.Len() {
			return 0, fmt.Errorf("column %d: %w", i, schema.ErrIndexOutOfRange)
		}
		return i, nil
	}
	return 0, fmt.Errorf("no column named %q", arg)
}

// editAndCommit opens path, applies the edit built by mk, commits and
// prints the resulting sidecar line.
func editAndCommit(ctx context.Context, a *app, path, col string, mk func(i int) session.Edit) error {
	c := a.controller()
	s, err := c.Open(ctx, path)
	if err != nil {
		return err
	}
	i, err := resolveColumn(&s.Schema, col)
	if err != nil {
		_ = c.Discard(s)
		return err
	}
	e := mk(i)
	if err := c.ApplyEdit(ctx, s, e); err != nil {
		_ = c.Discard(s)
		return fmt.Errorf("%s: %w", e, err)
	}
	if err := c.Commit(ctx, s); err != nil {
		return err
	}
	a.printf("%s: %s\n", s.SidecarPath, sidecar.Serialize(s.Schema))
	return nil
}

func newSetTypeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-type <file> <column> <Integer|Real|String>",
		Short: "Override the type of a column",
		Args:  exactArgs(3, "file", "column", "type"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			t, err := schema.ParseType(args[2])
			if err != nil {
				return err
			}
			return editAndCommit(ctx, a, args[0], args[1], func(i int) session.Edit {
				return session.SetType(i, t)
			})
		}),
	}
}

func newSetRoleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "set-role <file> <column> <x|y|none>",
		Short: "Designate a Real column as the X or Y coordinate",
		Args:  exactArgs(3, "file", "column", "role"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			r, err := schema.ParseRole(args[2])
			if err != nil {
				return err
			}
			return editAndCommit(ctx, a, args[0], args[1], func(i int) session.Edit {
				return session.SetRole(i, r)
			})
		}),
	}
}

func newClearTypeCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-type <file> <column>",
		Short: "Drop a type override and return to the inferred type",
		Args:  exactArgs(2, "file", "column"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			return editAndCommit(ctx, a, args[0], args[1], session.ClearType)
		}),
	}
}

func newLoadCmd(g *globalFlags) *cobra.Command {
	var table string
	cmd := &cobra.Command{
		Use:   "load <file>",
		Short: "Load every row into the configured database using the effective types",
		Args:  exactArgs(1, "file"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			path := args[0]
			c := a.controller()
			s, err := c.Open(ctx, path)
			if err != nil {
				return err
			}
			defer func() { _ = c.Discard(s) }()

			if table == "" {
				table = a.cfg.Storage.Table
			}
			if table == "" {
				table = storage.NormalizeIdent(baseName(path))
			}

			repo, err := storage.New(ctx, storage.Config{Kind: a.cfg.Storage.Kind, DSN: a.cfg.Storage.DSN})
			if err != nil {
				return err
			}
			defer repo.Close()

			src, err := datasource.Open(ctx, path, a.cfg.SourceOptions(s.Numbers()))
			if err != nil {
				return err
			}
			defer src.Close()

			l := &load.Loader{
				Repo:      repo,
				BatchSize: a.cfg.Storage.BatchSize,
				Numbers:   s.Numbers(),
				Logger:    a.log,
				Metrics:   a.metrics,
			}
			res, err := l.Load(ctx, src, s.Schema, table)
			if err != nil {
				return err
			}
			a.printf("loaded %d rows into %s (%d batches, %d nulls)\n", res.Rows, res.Table, res.Batches, res.Nulls)
			return nil
		}),
	}
	cmd.Flags().StringVar(&table, "table", "", "target table (default: storage.table or the file name)")
	return cmd
}

func newWatchCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Re-render the inspection whenever the file or its sidecar changes",
		Args:  exactArgs(1, "file"),
		RunE: runWith(g, func(ctx context.Context, a *app, args []string) error {
			path := args[0]
			c := a.controller()
			show := func() {
				s, err := c.Open(ctx, path)
				if err != nil {
					a.printf("%s: unavailable: %v\n", path, err)
					return
				}
				renderText(a.out, s)
				_ = c.Discard(s)
			}

			w, err := watch.New(path, watch.Options{Logger: a.log})
			if err != nil {
				return err
			}
			defer w.Close()

			show()
			return w.Run(ctx, func(changes []watch.Change) {
				for _, ch := range changes {
					a.log.Info("changed", "file", ch.Path, "sidecar", ch.Sidecar, "removed", ch.Removed)
				}
				show()
			})
		}),
	}
}
