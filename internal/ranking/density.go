package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/onejob/onejob/internal/models"
)

// CheckDensity returns nil when ranks is exactly {1..len(ranks)}, each used once.
// Otherwise it returns ErrConsistencyViolation naming the gaps and duplicates.
func CheckDensity(ranks []int) error {
	missing, dups, out := scan(ranks, len(ranks))
	if len(missing) == 0 && len(dups) == 0 && len(out) == 0 {
		return nil
	}
	return ReportError(models.DensityReport{Missing: missing, Duplicates: dups, OutOfRange: out})
}

// Inspect builds a density report over every task entry. Besides gaps and
// duplicates it flags active tasks without a rank and done tasks that keep one.
func Inspect(entries []Entry, now time.Time) models.DensityReport {
	report := models.DensityReport{CheckedAt: now}
	var ranks []int
	for _, e := range entries {
		switch {
		case e.State == models.StateActive && e.Rank <= 0:
			report.Active++
			report.Unranked = append(report.Unranked, e.ID)
		case e.State == models.StateActive:
			report.Active++
			ranks = append(ranks, e.Rank)
		case e.Rank > 0:
			report.Stray = append(report.Stray, e.ID)
		}
	}
	// Unranked tasks still count toward N, so their slots show up as missing.
	report.Missing, report.Duplicates, report.OutOfRange = scan(ranks, report.Active)
	report.OK = len(report.Missing) == 0 && len(report.Duplicates) == 0 && len(report.OutOfRange) == 0 &&
		len(report.Unranked) == 0 && len(report.Stray) == 0
	return report
}

// ReportError converts a failed report into an ErrConsistencyViolation.
func ReportError(r models.DensityReport) error {
	if r.OK {
		return nil
	}
	var parts []string
	if len(r.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing %v", r.Missing))
	}
	if len(r.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("duplicate %v", r.Duplicates))
	}
	if len(r.OutOfRange) > 0 {
		parts = append(parts, fmt.Sprintf("out of range %v", r.OutOfRange))
	}
	if len(r.Unranked) > 0 {
		parts = append(parts, fmt.Sprintf("unranked %v", r.Unranked))
	}
	if len(r.Stray) > 0 {
		parts = append(parts, fmt.Sprintf("done with rank %v", r.Stray))
	}
	return inconsistent("active ranks not dense: %s", strings.Join(parts, ", "))
}

// Renumber rewrites every active rank to 1..N, keeping the current relative
// order (rank, then insertion seq). Active tasks without a rank go last and
// done tasks lose any rank they kept. It returns the number of tasks changed.
//
// This is an operator repair action; nothing calls it implicitly.
func Renumber(ctx context.Context, set ActiveSet) (int, error) {
	entries, err := set.Entries(ctx)
	if err != nil {
		return 0, Storage("list entries", err)
	}

	var active []Entry
	changed := 0
	for _, e := range entries {
		if e.State == models.StateActive {
			active = append(active, e)
			continue
		}
		if e.Rank != 0 {
			if err := set.AssignRank(ctx, e.ID, 0); err != nil {
				return changed, Storage("clear stray rank", err)
			}
			changed++
		}
	}

	sort.SliceStable(active, func(i, j int) bool {
		a, b := active[i], active[j]
		if (a.Rank <= 0) != (b.Rank <= 0) {
			return b.Rank <= 0
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Seq < b.Seq
	})

	for i, e := range active {
		want := i + 1
		if e.Rank == want {
			continue
		}
		if err := set.AssignRank(ctx, e.ID, want); err != nil {
			return changed, Storage("assign rank", err)
		}
		changed++
	}
	return changed, nil
}

// scan compares ranks against {1..n}.
func scan(ranks []int, n int) (missing, dups, out []int) {
	seen := make(map[int]int, len(ranks))
	for _, r := range ranks {
		seen[r]++
	}
	for r := 1; r <= n; r++ {
		if seen[r] == 0 {
			missing = append(missing, r)
		}
	}
	for r, c := range seen {
		if r < 1 || r > n {
			out = append(out, r)
		} else if c > 1 {
			dups = append(dups, r)
		}
	}
	sort.Ints(dups)
	sort.Ints(out)
	return missing, dups, out
}
