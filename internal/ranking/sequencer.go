package ranking

import (
	"context"

	"github.com/onejob/onejob/internal/models"
)

// SubSequence is a transactional handle over the items of substacks.
type SubSequence interface {
	// MaxItemRank returns the highest item rank in the substack, 0 when empty.
	MaxItemRank(ctx context.Context, subStackID string) (int, error)
	// InsertItem stores a new item.
	InsertItem(ctx context.Context, item *models.SubStackItem) error
}

// NextItemRank returns max+1 for the substack. Ranks are never reused or renumbered.
func NextItemRank(ctx context.Context, seq SubSequence, subStackID string) (int, error) {
	max, err := seq.MaxItemRank(ctx, subStackID)
	if err != nil {
		return 0, Storage("read max item rank", err)
	}
	return max + 1, nil
}

// AppendItem assigns the next rank to item and stores it.
// Completion toggling does not go through here: it never touches ranks.
func AppendItem(ctx context.Context, seq SubSequence, item *models.SubStackItem) (*models.SubStackItem, error) {
	rank, err := NextItemRank(ctx, seq, item.SubStackID)
	if err != nil {
		return nil, err
	}
	item.Rank = rank
	if err := seq.InsertItem(ctx, item); err != nil {
		return nil, Storage("insert item", err)
	}
	return item, nil
}
