package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/pethealth/pethealth/internal/config"
	"github.com/pethealth/pethealth/internal/domain/catalog"
)

// catalogCmd groups the operator maintenance tasks that the admin API also
// exposes, for use from a shell or a scheduled job.
func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Maintain the standard item catalog",
	}
	cmd.AddCommand(cleanupCmd())
	cmd.AddCommand(remapCmd())
	cmd.AddCommand(resetUserCmd())
	return cmd
}

// withCatalog loads config, opens the pool and hands a catalog service to fn.
func withCatalog(cmd *cobra.Command, fn func(ctx context.Context, svc *catalog.Service) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, cmd.ErrOrStderr())

	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	svc := newCatalogService(pool, logger)
	// Writes must invalidate the cache the server reads from.
	_, closeRedis, err := attachAliasCache(ctx, cfg, svc, logger)
	if err != nil {
		return err
	}
	defer closeRedis()

	return fn(ctx, svc)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readActions decodes a JSON array of cleanup actions.
func readActions(r io.Reader) ([]catalog.CleanupAction, error) {
	var actions []catalog.CleanupAction
	if err := json.NewDecoder(r).Decode(&actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	if len(actions) == 0 {
		return nil, errors.New("no actions given")
	}
	return actions, nil
}

func cleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete or merge unmapped items from a JSON action file",
		Long: `Reads a JSON array of actions such as
  [{"action":"merge","item_id":"...","target_item_id":"...","add_alias":true},
   {"action":"delete","item_id":"..."}]
from --file ("-" for stdin) and applies them one by one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open actions file: %w", err)
				}
				defer f.Close()
				in = f
			}
			actions, err := readActions(in)
			if err != nil {
				return err
			}

			return withCatalog(cmd, func(ctx context.Context, svc *catalog.Service) error {
				sum := svc.CleanupUnmapped(ctx, actions, dryRun)
				if err := printJSON(cmd.OutOrStdout(), sum); err != nil {
					return err
				}
				if !sum.Success {
					return fmt.Errorf("%d of %d action(s) failed", len(sum.Errors), sum.Processed)
				}
				return nil
			})
		},
	}
	cmd.Flags().String("file", "-", "Path to the JSON action file")
	cmd.Flags().Bool("dry-run", false, "Report what would change without writing")
	return cmd
}

func remapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remap",
		Short: "Move results and aliases from one item to another",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, _ := cmd.Flags().GetString("from")
			to, _ := cmd.Flags().GetString("to")
			keep, _ := cmd.Flags().GetBool("keep")
			addAlias, _ := cmd.Flags().GetBool("add-alias")

			oldID, err := uuid.Parse(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			newID, err := uuid.Parse(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			opts := catalog.RemapOptions{DeleteAfterRemap: !keep, AddOldNameAlias: addAlias}

			return withCatalog(cmd, func(ctx context.Context, svc *catalog.Service) error {
				res, err := svc.Remap(ctx, oldID, newID, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().String("from", "", "Item id to move away from")
	cmd.Flags().String("to", "", "Item id to move onto")
	cmd.Flags().Bool("keep", false, "Keep the source item even when no results remain")
	cmd.Flags().Bool("add-alias", false, "Register the source item's name as an alias of the target")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func resetUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-user",
		Short: "Drop a user's overrides, custom items and alias mappings",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, _ := cmd.Flags().GetString("user")
			if user == "" {
				return errors.New("--user is required")
			}
			return withCatalog(cmd, func(ctx context.Context, svc *catalog.Service) error {
				counts, err := svc.ResetUserOverrides(ctx, user)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), counts)
			})
		},
	}
	cmd.Flags().String("user", "", "User id to reset")
	return cmd
}
