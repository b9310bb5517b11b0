package models

// Option is a generic string-valued configuration register. Absent keys mean
// the caller-supplied default applies.
type Option struct {
	Key   string `json:"key" gorm:"primaryKey"`
	Value string `json:"value" gorm:"not null"`
}
