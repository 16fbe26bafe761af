package repos

import (
	"context"
	"fmt"

	"abonnement-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultPadding = 5

// SequenceRepo hands out gap-free names from the sequences table.
type SequenceRepo struct {
	scope
	prefix string
}

func NewSequenceRepo(db *gorm.DB, schema, prefix string) *SequenceRepo {
	return &SequenceRepo{scope: scope{db, schema}, prefix: prefix}
}

// Next returns prefix + zero padded counter and advances the counter. The
// sequence row is created on first use.
func (r *SequenceRepo) Next(ctx context.Context, code string) (string, error) {
	var name string
	err := r.run(ctx, func(tx *gorm.DB) error {
		seed := models.Sequence{Code: code, Prefix: r.prefix, Padding: defaultPadding, Next: 1}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
			return err
		}
		var seq models.Sequence
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&seq, "code = ?", code).Error; err != nil {
			return err
		}
		n := seq.Next
		if err := tx.Model(&seq).Update("next", n+1).Error; err != nil {
			return err
		}
		name = fmt.Sprintf("%s%0*d", seq.Prefix, seq.Padding, n)
		return nil
	})
	return name, err
}
