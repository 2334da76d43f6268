package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"subforge/internal/basecache"
	"subforge/internal/config"
	"subforge/internal/identity"
	"subforge/internal/queue"
	"subforge/internal/workflow"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the baseline artifact cache",
	}
	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheVerifyCommand(ctx))
	cacheCmd.AddCommand(newCacheClearCommand(ctx))
	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached baseline entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				cache := mgr.Cache()
				out := cmd.OutOrStdout()
				if cache == nil {
					fmt.Fprintln(out, "Baseline cache is disabled")
					return nil
				}
				entries, err := cache.List()
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "Cache is empty")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				var total int64
				for _, entry := range entries {
					size := entry.SizeBytes()
					total += size
					names := make([]string, 0, len(entry.Meta.Artifacts))
					for _, artifact := range entry.Meta.Artifacts {
						names = append(names, artifact.Name)
					}
					rows = append(rows, []string{
						shortMediaID(entry.Meta.MediaID),
						strings.Join(names, ", "),
						humanize.IBytes(uint64(size)),
						humanize.Time(entry.Meta.CreatedAt),
					})
				}
				fmt.Fprintln(out, renderTable([]string{"Media", "Artifacts", "Size", "Created"}, rows, 3))
				fmt.Fprintf(out, "%d entries, %s total\n", len(entries), humanize.IBytes(uint64(total)))
				return nil
			})
		},
	}
}

func newCacheVerifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Checksum every cache entry and drop corrupt ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				cache := mgr.Cache()
				out := cmd.OutOrStdout()
				if cache == nil {
					fmt.Fprintln(out, "Baseline cache is disabled")
					return nil
				}
				result, err := cache.Verify(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Checked %d entries\n", result.Checked)
				if len(result.Dropped) == 0 {
					fmt.Fprintln(out, "All entries verified")
					return nil
				}
				for _, id := range result.Dropped {
					fmt.Fprintf(out, "Dropped corrupt entry %s\n", shortMediaID(id))
				}
				return nil
			})
		},
	}
}

func newCacheClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [media-id]",
		Short: "Remove cached baseline entries, or one media identity's entries",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withManager(func(_ *config.Config, _ *queue.Store, mgr *workflow.Manager) error {
				cache := mgr.Cache()
				out := cmd.OutOrStdout()
				if cache == nil {
					fmt.Fprintln(out, "Baseline cache is disabled")
					return nil
				}
				if len(args) == 1 {
					id, err := resolveMediaID(cache, args[0])
					if err != nil {
						return err
					}
					if err := cache.Invalidate(id); err != nil {
						return err
					}
					fmt.Fprintf(out, "Removed entries for %s\n", id.Short())
					return nil
				}
				if err := cache.InvalidateAll(); err != nil {
					return err
				}
				fmt.Fprintln(out, "Cache cleared")
				return nil
			})
		},
	}
}

// resolveMediaID accepts a full media identity or a unique prefix, as shown
// by cache list.
func resolveMediaID(cache *basecache.Store, arg string) (identity.Identity, error) {
	entries, err := cache.List()
	if err != nil {
		return "", err
	}
	seen := make(map[string]struct{})
	var resolved []string
	for _, entry := range entries {
		if !strings.HasPrefix(entry.Meta.MediaID, arg) {
			continue
		}
		if _, ok := seen[entry.Meta.MediaID]; ok {
			continue
		}
		seen[entry.Meta.MediaID] = struct{}{}
		resolved = append(resolved, entry.Meta.MediaID)
	}
	switch len(resolved) {
	case 0:
		return "", fmt.Errorf("no cache entry matches %q", arg)
	case 1:
		return identity.Identity(resolved[0]), nil
	default:
		return "", fmt.Errorf("%q matches %d entries, use a longer prefix", arg, len(resolved))
	}
}

func shortMediaID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
