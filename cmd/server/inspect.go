package main

import (
	"fmt"
	"log/slog"
	"strconv"
	"text/tabwriter"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/NVSL/rocksdb/persist"
)

func newInspectCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [object-id...]",
		Short: "List cataloged objects and dry-run their logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			mgr, err := openManager(cfg, logger)
			if err != nil {
				return err
			}
			defer mgr.Close()

			entries, err := mgr.Entries()
			if err != nil {
				return err
			}
			want := make(map[uuid.UUID]bool, len(args))
			for _, a := range args {
				id, err := uuid.Parse(a)
				if err != nil {
					return errors.Newf("invalid object id %q", a)
				}
				want[id] = true
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCLASS\tCREATED\tLOG BYTES\tLOCATION")
			for _, e := range entries {
				if len(want) > 0 && !want[e.ID] {
					continue
				}
				size := "-"
				n, err := mgr.Measure(e.ID)
				switch {
				case errors.Is(err, persist.ErrUnknownClass):
					logger.Warn("not measuring object of unregistered class",
						slog.String("id", e.ID.String()), slog.Uint64("class", e.Class))
				case err != nil:
					return err
				default:
					size = strconv.FormatInt(n, 10)
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", e.ID, e.Class, e.Created.UTC().Format("2006-01-02T15:04:05Z"), size, e.Location)
			}
			return w.Flush()
		},
	}
}
