package models

// Sequence is a named counter used to number contracts.
type Sequence struct {
	Code    string `json:"code" gorm:"primaryKey;size:64"`
	Prefix  string `json:"prefix" gorm:"size:32"`
	Padding int    `json:"padding" gorm:"not null;default:5"`
	Next    int64  `json:"next" gorm:"not null;default:1"`
}
