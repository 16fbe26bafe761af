package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContractEvent is an append-only audit row written whenever a contract
// changes state, total, lock flag or emits an invoice.
type ContractEvent struct {
	ID           uint           `json:"id" gorm:"primaryKey"`
	ContractID   uint           `json:"contract_id" gorm:"index:idx_contract_events_contract_at,priority:1"`
	ContractName string         `json:"contract_name" gorm:"size:64"`
	Kind         string         `json:"kind" gorm:"type:VARCHAR(20)"` // state | amount_total | lock | invoice
	From         string         `json:"from" gorm:"column:from_value"`
	To           string         `json:"to" gorm:"column:to_value"`
	Snapshot     datatypes.JSON `json:"snapshot" gorm:"type:jsonb"`
	At           time.Time      `json:"at" gorm:"index:idx_contract_events_contract_at,priority:2"`
}
