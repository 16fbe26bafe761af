package repos

import (
	"context"
	"errors"
	"fmt"

	"abonnement-backend/billing"
	"abonnement-backend/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContractRepo persists contracts and implements billing.ContractStore.
type ContractRepo struct {
	scope
}

func NewContractRepo(db *gorm.DB, schema string) *ContractRepo {
	return &ContractRepo{scope{db, schema}}
}

func orderedLines(db *gorm.DB) *gorm.DB {
	return db.Order("sequence, id")
}

func notFound(id uint, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("contract %d: %w", id, billing.ErrNotFound)
	}
	return err
}

func (r *ContractRepo) Create(ctx context.Context, c *models.Contract) error {
	return r.run(ctx, func(tx *gorm.DB) error {
		if c.Version == 0 {
			c.Version = 1
		}
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		if len(c.Lines) == 0 {
			return nil
		}
		for i := range c.Lines {
			c.Lines[i].ContractID = c.ID
		}
		return tx.Create(&c.Lines).Error
	})
}

// ContractFilter narrows List. Empty fields match everything.
type ContractFilter struct {
	State      models.ContractState
	CustomerID *uint
	Unlocked   bool
}

func (r *ContractRepo) List(ctx context.Context, f ContractFilter) ([]models.Contract, error) {
	var out []models.Contract
	err := r.run(ctx, func(tx *gorm.DB) error {
		q := tx.Preload("Lines", orderedLines).Order("id")
		if f.State != "" {
			q = q.Where("state = ?", f.State)
		}
		if f.CustomerID != nil {
			q = q.Where("customer_id = ?", *f.CustomerID)
		}
		if f.Unlocked {
			q = q.Where(map[string]any{"lock": false})
		}
		return q.Find(&out).Error
	})
	return out, err
}

func (r *ContractRepo) Get(ctx context.Context, id uint) (*models.Contract, error) {
	var c models.Contract
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Preload("Lines", orderedLines).Preload("Customer").First(&c, id).Error
	})
	if err != nil {
		return nil, notFound(id, err)
	}
	return &c, nil
}

func (r *ContractRepo) ContractIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.Contract{}).Order("id").Pluck("id", &ids).Error
	})
	return ids, err
}

// Atomic loads the contract with a row lock, runs fn and saves the contract
// and its lines with an optimistic version check, all in one transaction.
// Repository calls made by fn with the given context join that transaction.
func (r *ContractRepo) Atomic(ctx context.Context, id uint, fn func(ctx context.Context, c *models.Contract) error) error {
	return r.run(ctx, func(tx *gorm.DB) error {
		var c models.Contract
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, id).Error; err != nil {
			return notFound(id, err)
		}
		if err := orderedLines(tx.Where("contract_id = ?", c.ID)).Find(&c.Lines).Error; err != nil {
			return err
		}
		if err := fn(WithTx(ctx, tx), &c); err != nil {
			return err
		}
		return r.save(tx, &c)
	})
}

func (r *ContractRepo) save(tx *gorm.DB, c *models.Contract) error {
	prev := c.Version
	c.Version = prev + 1
	res := tx.Model(c).
		Where("version = ?", prev).
		Select("*").
		Omit("ID", "CreatedAt", clause.Associations).
		Updates(c)
	if res.Error != nil {
		c.Version = prev
		return res.Error
	}
	if res.RowsAffected == 0 {
		c.Version = prev
		return fmt.Errorf("contract %d: %w", c.ID, billing.ErrConflict)
	}

	keep := make([]uint, 0, len(c.Lines))
	for _, l := range c.Lines {
		if l.ID != 0 {
			keep = append(keep, l.ID)
		}
	}
	del := tx.Where("contract_id = ?", c.ID)
	if len(keep) > 0 {
		del = del.Where("id NOT IN ?", keep)
	}
	if err := del.Delete(&models.ContractLine{}).Error; err != nil {
		return err
	}
	for i := range c.Lines {
		c.Lines[i].ContractID = c.ID
		if err := tx.Save(&c.Lines[i]).Error; err != nil {
			return err
		}
	}
	return nil
}
