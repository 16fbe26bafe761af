package repos

import (
	"context"
	"encoding/json"

	"abonnement-backend/billing"
	"abonnement-backend/logger"
	"abonnement-backend/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventRecorder writes contract changes to contract_events. Failures are
// logged and never break the contract update.
type EventRecorder struct {
	scope
	log *logger.Logger
}

func NewEventRecorder(db *gorm.DB, schema string, log *logger.Logger) *EventRecorder {
	if log == nil {
		log = logger.Nop()
	}
	return &EventRecorder{scope: scope{db, schema}, log: log}
}

func (r *EventRecorder) ContractChanged(ctx context.Context, ch billing.ContractChange) {
	snapshot, err := json.Marshal(ch)
	if err != nil {
		r.log.Warn("contract event not recorded", "contract_id", ch.ContractID, "error", err)
		return
	}
	ev := models.ContractEvent{
		ContractID:   ch.ContractID,
		ContractName: ch.Name,
		Kind:         string(ch.Kind),
		From:         ch.From,
		To:           ch.To,
		Snapshot:     datatypes.JSON(snapshot),
		At:           ch.At,
	}
	err = r.run(ctx, func(tx *gorm.DB) error {
		return tx.Transaction(func(tx *gorm.DB) error {
			return tx.Create(&ev).Error
		})
	})
	if err != nil {
		r.log.Warn("contract event not recorded", "contract_id", ch.ContractID, "kind", ch.Kind, "error", err)
	}
}

// ForContract returns the audit trail of one contract in order.
func (r *EventRecorder) ForContract(ctx context.Context, contractID uint) ([]models.ContractEvent, error) {
	var out []models.ContractEvent
	err := r.run(ctx, func(tx *gorm.DB) error {
		return tx.Where("contract_id = ?", contractID).Order("at, id").Find(&out).Error
	})
	return out, err
}
