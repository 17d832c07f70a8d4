package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/okian/evalbench/internal/domain/model"
)

func printProgress(w io.Writer, p model.RunProgress) {
	fmt.Fprintf(w, "%s %s: %d/%d evaluated (%.1f%%)\n",
		p.LastUpdateTime.Format(time.TimeOnly), p.Status,
		p.EvaluatedSubmissions, p.TotalSubmissions, p.Ratio()*100)
}

func printLease(w io.Writer, l *model.Lease) {
	if l == nil {
		fmt.Fprintln(w, "lease never taken")
		return
	}
	if !l.IsLocked {
		fmt.Fprintf(w, "free (last run %s)\n", l.RunID)
		return
	}
	fmt.Fprintf(w, "held by %s for user %s since %s (run %s)\n",
		l.LockedBy, l.LockedByUser, l.LockedAt.Format(time.RFC3339), l.RunID)
}

func printLeaderboard(w io.Writer, entries []model.FinalEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPARTICIPANT\tNAME\tAUTOMATED\tHUMAN\tFINAL")
	for _, e := range entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.2f\t%.2f\t%.2f\n",
			e.Rank, e.ParticipantID, e.FullName, e.AutomatedScore, e.HumanScore, e.FinalScore)
	}
	_ = tw.Flush()
}

// VerifyRanks checks that each entry either shares its predecessor's rank
// with an equal or higher score, or takes its 1-based position after a
// strictly lower score.
func VerifyRanks(entries []model.FinalEntry) error {
	for i, e := range entries {
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("first entry %s has rank %d", e.ParticipantID, e.Rank)
			}
			continue
		}
		prev := entries[i-1]
		want := prev.Rank
		if e.FinalScore < prev.FinalScore {
			want = i + 1
		}
		if e.Rank != want {
			return fmt.Errorf("entry %d (%s) has rank %d, want %d", i, e.ParticipantID, e.Rank, want)
		}
	}
	return nil
}
