package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"scadenze/internal/core"
	"scadenze/internal/schedule"
	"scadenze/internal/services"
)

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid item id %q", arg)
	}
	return id, nil
}

func (a *app) today() core.Date {
	return core.DateOf(a.now())
}

func (a *app) print(w io.Writer, v any, table func(tw *tabwriter.Writer)) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

type itemRow struct {
	ID        int64          `json:"id"`
	Name      string         `json:"name"`
	Direction core.Direction `json:"direction"`
	Amount    string         `json:"amount"`
	Schedule  string         `json:"schedule"`
	Active    bool           `json:"active"`
}

func newItemsCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "items",
		Short: "List recurring items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			items, err := a.store.ListRecurringItems(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([]itemRow, len(items))
			for i, it := range items {
				sched := "-"
				if it.Policy != nil {
					sched = fmt.Sprint(it.Policy)
				}
				rows[i] = itemRow{it.ID, it.Name, it.Direction, it.Amount.String(), sched, it.Active}
			}
			return a.print(cmd.OutOrStdout(), rows, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tNAME\tDIRECTION\tAMOUNT\tSCHEDULE\tACTIVE")
				for _, r := range rows {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", r.ID, r.Name, r.Direction, r.Amount, r.Schedule, r.Active)
				}
			})
		},
	}
}

func newPreviewCmd(get func() *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "preview <item-id>",
		Short: "Show the first occurrences of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			item, err := a.store.GetRecurringItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			occs, err := a.gen.Generate(item, count)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), occs, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "INDEX\tOCCURRENCE\tDATE")
				for _, o := range occs {
					fmt.Fprintf(tw, "%d\t%s\t%s\n", o.Index, o.ID, o.Date)
				}
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 12, fmt.Sprintf("Number of occurrences (0-%d)", schedule.DefaultMaxOccurrences))
	return cmd
}

type dueOutput struct {
	ItemID          int64             `json:"item_id"`
	AsOf            core.Date         `json:"as_of"`
	OccurrenceID    core.OccurrenceID `json:"occurrence_id,omitempty"`
	Date            *core.Date        `json:"date,omitempty"`
	Overdue         bool              `json:"overdue"`
	HorizonExceeded bool              `json:"horizon_exceeded"`
}

func newNextDueCmd(get func() *app) *cobra.Command {
	var (
		asOf  string
		depth int
	)
	cmd := &cobra.Command{
		Use:   "next-due <item-id>",
		Short: "Resolve the next unpaid occurrence of an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			date := a.today()
			if asOf != "" {
				if date, err = core.ParseDate(asOf); err != nil {
					return err
				}
			}
			item, err := a.store.GetRecurringItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			res := a.resolver
			if cmd.Flags().Changed("depth") {
				res = res.WithSearchDepth(depth)
			}
			if err := res.Config().Validate(); err != nil {
				return err
			}
			completed, err := a.loader.LoadFor(cmd.Context(), res, date)
			if err != nil {
				return err
			}
			next, err := res.NextDue(item, completed, date)
			if err != nil {
				return err
			}

			out := dueOutput{ItemID: item.ID, AsOf: date}
			due, ok := next.Get()
			if ok {
				d := due.Date
				out.OccurrenceID = due.ID
				out.Date = &d
				out.Overdue = due.Overdue
				out.HorizonExceeded = due.HorizonExceeded
			}
			return a.print(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
				switch {
				case !ok:
					fmt.Fprintf(tw, "no due occurrence for item %d as of %s\n", item.ID, date)
				case due.HorizonExceeded:
					fmt.Fprintf(tw, "%s\t%s\tsearch exhausted after %d occurrences\n", due.ID, due.Date, res.Config().SearchDepth)
				case due.Overdue:
					fmt.Fprintf(tw, "%s\t%s\toverdue\n", due.ID, due.Date)
				default:
					fmt.Fprintf(tw, "%s\t%s\tdue\n", due.ID, due.Date)
				}
			})
		},
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "Reference date YYYY-MM-DD (default: today)")
	cmd.Flags().IntVar(&depth, "depth", services.DefaultSearchDepth, "Occurrences examined before giving up")
	return cmd
}

type monthRow struct {
	OccurrenceID core.OccurrenceID        `json:"occurrence_id"`
	Date         core.Date                `json:"date"`
	State        services.OccurrenceState `json:"state"`
}

func newMonthCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "month <item-id> [YYYY-MM]",
		Short: "List an item's occurrences in a month with their state",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			today := a.today()
			ym := core.MonthOf(today)
			if len(args) == 2 {
				if ym, err = core.ParseYearMonth(args[1]); err != nil {
					return err
				}
			}
			item, err := a.store.GetRecurringItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			completed, err := a.store.FetchCompletedOccurrenceIDs(cmd.Context(), ym)
			if err != nil {
				return err
			}
			statuses, err := a.resolver.MonthStatus(item, ym, completed)
			if err != nil {
				return err
			}
			rows := make([]monthRow, len(statuses))
			for i, st := range statuses {
				rows[i] = monthRow{st.ID, st.Date, services.State(st.Occurrence, completed, today)}
			}
			return a.print(cmd.OutOrStdout(), rows, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "OCCURRENCE\tDATE\tSTATE")
				for _, r := range rows {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", r.OccurrenceID, r.Date, r.State)
				}
			})
		},
	}
}

func newMarkCmd(get func() *app) *cobra.Command {
	var (
		month string
		undo  bool
	)
	cmd := &cobra.Command{
		Use:   "mark <occurrence-id>",
		Short: "Record an occurrence as paid (or clear it with --undo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			var ym core.YearMonth
			if month != "" {
				var err error
				if ym, err = core.ParseYearMonth(month); err != nil {
					return err
				}
			}
			written, err := a.completion.SetCompleted(cmd.Context(), core.OccurrenceID(args[0]), ym, !undo)
			if err != nil {
				return err
			}
			out := map[string]any{"occurrence_id": args[0], "month": written.String(), "completed": !undo}
			return a.print(cmd.OutOrStdout(), out, func(tw *tabwriter.Writer) {
				verb := "marked"
				if undo {
					verb = "cleared"
				}
				fmt.Fprintf(tw, "%s %s in %s\n", verb, args[0], written)
			})
		},
	}
	cmd.Flags().StringVar(&month, "month", "", "Record month YYYY-MM (default: the occurrence's month)")
	cmd.Flags().BoolVar(&undo, "undo", false, "Clear the completion instead")
	return cmd
}
