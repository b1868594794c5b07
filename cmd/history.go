package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/centerstage/internal/store"
	"github.com/andresmejia3/centerstage/internal/utils"
	"github.com/spf13/cobra"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:         "history [session-id]",
	Short:       "List recorded framing sessions, or the face tracks of one session",
	Args:        cobra.MaximumNArgs(1),
	Annotations: map[string]string{dbAnnotation: dbRequired},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return runSessionTracks(cmd.Context(), args[0])
		}
		return runHistory(cmd.Context(), historyLimit)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of sessions to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(ctx context.Context, limit int) error {
	sessions, err := DB.ListSessions(ctx, limit)
	if err != nil {
		utils.ShowError("Failed to list sessions", err, nil)
		return err
	}
	printSessions(os.Stdout, sessions)
	return nil
}

func runSessionTracks(ctx context.Context, id string) error {
	tracks, err := DB.GetSessionTracks(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Printf("❌ No session with id %s.\n", id)
		return err
	}
	if err != nil {
		utils.ShowError("Failed to retrieve tracks", err, nil)
		return err
	}
	printTracks(os.Stdout, tracks)
	return nil
}

func printSessions(out io.Writer, sessions []store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tSTARTED\tDURATION\tFRAMES\tFPS\tTRACKS")
	fmt.Fprintln(w, "--\t------\t-------\t--------\t------\t---\t------")
	for _, s := range sessions {
		duration := "running"
		if s.EndedAt != nil {
			duration = fmtDuration(s.EndedAt.Sub(s.StartedAt))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.1f\t%d\n",
			s.ID,
			filepath.Base(s.Source),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			duration,
			s.Frames,
			s.AvgFPS,
			s.TrackCount,
		)
	}
	w.Flush()
}

func printTracks(out io.Writer, tracks []store.TrackRecord) {
	if len(tracks) == 0 {
		fmt.Fprintln(out, "No tracks recorded for this session.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TRACK\tFRAMES\tDETECTIONS\tPEAK CONF\tENDED")
	fmt.Fprintln(w, "-----\t------\t----------\t---------\t-----")
	for _, t := range tracks {
		fmt.Fprintf(w, "%d\t%d-%d\t%d\t%.2f\t%s\n",
			t.TrackID,
			t.FirstFrame, t.LastFrame,
			t.Detections,
			t.PeakConfidence,
			t.EndedAt.Local().Format("15:04:05"),
		)
	}
	w.Flush()
}

func fmtDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
