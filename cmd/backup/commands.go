package main

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/imedwei/collection-backup/internal/backup"
	"github.com/imedwei/collection-backup/internal/model"
)

func newRunCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "run [label...]",
		Short: "Back up collections",
		Long: `Back up the named collections, or every included collection with --all.
Unchanged collections are deduplicated against their existing archives.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			if all == (len(args) > 0) {
				return errors.New("name one or more collections or pass --all")
			}

			if port := a.cfg.Metrics.Port; port > 0 {
				wait := a.startServer(ctx, port)
				defer wait()
			}
			a.orch.LogSourceInfo(ctx, a.dumper)

			if all {
				report, err := a.orch.BackupAll(ctx)
				if report != nil {
					printResults(cmd.OutOrStdout(), report.Results)
				}
				return err
			}

			var (
				results []*backup.Result
				errs    []error
			)
			for _, label := range args {
				res, err := a.orch.BackupOne(ctx, label)
				if res != nil {
					results = append(results, res)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", label, err))
				}
			}
			printResults(cmd.OutOrStdout(), results)
			return errors.Join(errs...)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "back up every included collection")
	return cmd
}

func printResults(out io.Writer, results []*backup.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tOUTCOME\tARCHIVE\tDETAIL")
	for _, r := range results {
		name, detail := "-", ""
		if r.Archive != nil {
			name = r.Archive.Name
		}
		switch {
		case r.Err != nil:
			detail = r.Err.Error()
		case r.Reason != "":
			detail = r.Reason
		case r.PruneErr != nil:
			detail = "prune failed: " + r.PruneErr.Error()
		case r.NotifyErr != nil:
			detail = "mail failed: " + r.NotifyErr.Error()
		case r.Pruned != nil && len(r.Pruned.Deleted) > 0:
			detail = fmt.Sprintf("pruned %d archives", len(r.Pruned.Deleted))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Label, r.Outcome, name, detail)
	}
	w.Flush()
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune [label...]",
		Short: "Apply retention policies",
		Long:  "Delete the archives selected by the retention policy of the named collections, or of every collection.",
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := appFrom(cmd).orch.PruneSelected(cmd.Context(), args)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "COLLECTION\tDELETED\tFREED")
			for _, label := range slices.Sorted(maps.Keys(results)) {
				r := results[label]
				fmt.Fprintf(w, "%s\t%d\t%s\n", label, len(r.Deleted), humanize.Bytes(uint64(r.Freed)))
			}
			w.Flush()
			return err
		},
	}
}

func newKeepCmd(keep bool) *cobra.Command {
	use, short := "keep", "Protect archives from retention"
	if !keep {
		use, short = "unkeep", "Let retention delete archives again"
	}

	return &cobra.Command{
		Use:   use + " <archive-id>...",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachArchive(cmd, args, func(id int64) error {
				ar, err := appFrom(cmd).orch.SetKeep(cmd.Context(), id, keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s keep=%t\n", ar.Name, ar.Keep)
				return nil
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <archive-id>...",
		Short: "Delete archives and their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachArchive(cmd, args, func(id int64) error {
				ar, err := appFrom(cmd).orch.DeleteArchive(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ar.Name)
				return nil
			})
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <archive-id>...",
		Short: "Check archive files against their recorded fingerprints",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return eachArchive(cmd, args, func(id int64) error {
				ar, err := appFrom(cmd).orch.VerifyArchive(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok %s\n", ar.Name, ar.Fingerprint)
				return nil
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <archive-id>",
		Short: "Replace a collection's data with an archive",
		Long: `Verify the archive and load it into the source database, replacing the
current contents of the collection. A corrupted archive is never loaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArchiveID(args[0])
			if err != nil {
				return err
			}
			n, err := appFrom(cmd).orch.Restore(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d records\n", n)
			return nil
		},
	}
}

func newMailCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mail <archive-id>",
		Short: "Mail an archive to its collection's recipients",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArchiveID(args[0])
			if err != nil {
				return err
			}
			ar, err := appFrom(cmd).orch.MailArchive(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mailed %s\n", ar.Name)
			return nil
		},
	}
}

func newDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <archive-id>",
		Short: "Copy an archive file as stored",
		Long: `Copy the stored bytes of an archive, compressed as written, to a file.
Without -o the file keeps the archive name in the current directory; "-o -"
writes to standard output.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseArchiveID(args[0])
			if err != nil {
				return err
			}
			a := appFrom(cmd)
			ar, err := a.orch.Archive(cmd.Context(), id)
			if err != nil {
				return err
			}

			if output == "-" {
				_, _, err := a.orch.Download(cmd.Context(), id, cmd.OutOrStdout())
				return err
			}

			dest := output
			if dest == "" {
				dest = ar.Name
			} else if info, err := os.Stat(dest); err == nil && info.IsDir() {
				dest = filepath.Join(dest, ar.Name)
			}

			f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
			if err != nil {
				return fmt.Errorf("%w: %v", model.ErrIO, err)
			}
			_, n, err := a.orch.Download(cmd.Context(), id, f)
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("%w: %v", model.ErrIO, cerr)
			}
			if err != nil {
				os.Remove(dest)
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", dest, humanize.Bytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", `destination file or directory, "-" for stdout`)
	return cmd
}

func newAddCmd() *cobra.Command {
	var settings objectSettings

	cmd := &cobra.Command{
		Use:   "add <label>",
		Short: "Register a collection and back it up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			obj, err := a.registry.Add(cmd.Context(), args[0], func(o *model.BackupObject) error {
				return settings.apply(cmd, o)
			})
			if err != nil {
				return err
			}

			res, err := a.orch.BackupOne(cmd.Context(), obj.Label)
			if res != nil {
				printResults(cmd.OutOrStdout(), []*backup.Result{res})
			}
			return err
		},
	}

	settings.register(cmd)
	return cmd
}

func newSetCmd() *cobra.Command {
	var settings objectSettings

	cmd := &cobra.Command{
		Use:   "set <label>",
		Short: "Change the settings of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, err := appFrom(cmd).registry.Update(cmd.Context(), args[0], func(o *model.BackupObject) error {
				return settings.apply(cmd, o)
			})
			if err != nil {
				return err
			}
			printObjects(cmd.OutOrStdout(), []*model.BackupObject{obj})
			return nil
		},
	}

	settings.register(cmd)
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <label>",
		Short: "Unregister a collection and delete its archives",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := appFrom(cmd).registry.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	var includedOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			list := a.registry.List
			if includedOnly {
				list = a.registry.ListIncluded
			}
			objects, err := list(cmd.Context())
			if err != nil {
				return err
			}
			if len(objects) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No collections registered")
				return nil
			}
			printObjects(cmd.OutOrStdout(), objects)
			return nil
		},
	}

	cmd.Flags().BoolVar(&includedOnly, "included", false, "only collections taking part in batch runs")
	return cmd
}

func printObjects(out io.Writer, objects []*model.BackupObject) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LABEL\tINCLUDE\tCOMPRESSION\tNATURAL_KEYS\tPRUNE\tAUTO_PRUNE\tRECIPIENTS")
	for _, o := range objects {
		prune := string(o.PruneBy)
		if o.PruneBy != model.PruneNone {
			prune = fmt.Sprintf("%s=%s", o.PruneBy, strconv.FormatFloat(o.PruneValue, 'f', -1, 64))
		}
		fmt.Fprintf(w, "%s\t%t\t%s\t%t\t%s\t%t\t%s\n",
			o.Label, o.Include, o.Compression, o.UseNaturalKeys, prune, o.AutoPrune, strings.Join(o.Recipients, ","))
	}
	w.Flush()
}

func newArchivesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archives <label>",
		Short: "List the archives of a collection, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			archives, err := a.orch.ListArchives(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			stats, err := a.orch.Stats(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSIZE\tKEEP\tCREATED\tSHA1")
			for _, ar := range archives {
				keep := ""
				if ar.Keep {
					keep = "*"
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					ar.ID, ar.Name, humanize.Bytes(uint64(ar.Size)), keep, ar.CreatedAt.Format(time.DateTime), ar.Fingerprint)
			}
			w.Flush()

			fmt.Fprintf(out, "%d archives, %d kept, %s total, %s prunable\n",
				stats.Archives, stats.Kept, humanize.Bytes(uint64(stats.TotalSize)), humanize.Bytes(uint64(stats.SizeNotKept)))
			return nil
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Register every collection found in the source database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			added, err := appFrom(cmd).registry.Sync(cmd.Context())
			if err != nil {
				return err
			}
			if len(added) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "All collections already registered")
				return nil
			}
			printObjects(cmd.OutOrStdout(), added)
			return nil
		},
	}
}

func newPreviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preview <label>",
		Short: "Show what the retention policy would delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := appFrom(cmd).orch.Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "policy %s (%s), %d archives, %d kept, %s prunable\n",
				p.Policy, strconv.FormatFloat(p.Value, 'f', -1, 64), p.Total, p.Kept, humanize.Bytes(uint64(p.SizeNotKept)))
			for _, ar := range p.WouldDelete {
				fmt.Fprintf(out, "  would delete %d %s (%s)\n", ar.ID, ar.Name, humanize.Bytes(uint64(ar.Size)))
			}
			fmt.Fprintf(out, "would free %s, %d archives remain\n", humanize.Bytes(uint64(p.WouldFree)), p.WouldRetain)
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <label>",
		Short: "Compare archive files with their records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := appFrom(cmd).orch.Check(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, name := range report.Orphans {
				fmt.Fprintf(out, "orphan file %s\n", name)
			}
			for _, ar := range report.Missing {
				fmt.Fprintf(out, "missing file for archive %d %s\n", ar.ID, ar.Name)
			}
			if n := len(report.Orphans) + len(report.Missing); n > 0 {
				return fmt.Errorf("%s: %d inconsistencies", args[0], n)
			}
			fmt.Fprintln(out, "ok")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and health endpoints until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			ctx := cmd.Context()
			if !cmd.Flags().Changed("port") && a.cfg.Metrics.Port > 0 {
				port = a.cfg.Metrics.Port
			}

			wait := a.startServer(ctx, port)
			defer wait()

			checker := a.checker()
			for {
				select {
				case <-ctx.Done():
					a.logger.Info("Shutdown signal received")
					return nil
				case <-a.clock.After(healthLogInterval):
					report := checker.CheckHealth(ctx)
					a.logger.Info("Health status", "status", report.Status)
				}
			}
		},
	}

	cmd.Flags().IntVar(&port, "port", 8080, "listen port (defaults to the configured metrics port)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "backup %s\n", version)
		},
	}
}

func parseArchiveID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid archive id %q", s)
	}
	return id, nil
}

// eachArchive runs fn for every archive id in args and joins the failures.
func eachArchive(cmd *cobra.Command, args []string, fn func(int64) error) error {
	var errs []error
	for _, arg := range args {
		id, err := parseArchiveID(arg)
		if err == nil {
			err = fn(id)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("archive %s: %w", arg, err))
		}
	}
	return errors.Join(errs...)
}
