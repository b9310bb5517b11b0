package models

// PriceSample is one observation of the priced asset's high over the interval
// [OpenTime, OpenTime+IntervalSec). High is fixed-point: 1,000,000 units equal
// one major currency unit's worth of the asset. EndTime is stored so the
// freshness/high scans run over an index instead of computing per row.
type PriceSample struct {
	OpenTime    int64 `json:"open_time" gorm:"primaryKey;autoIncrement:false"` // unix seconds
	High        int64 `json:"high" gorm:"not null"`
	IntervalSec int64 `json:"interval_sec" gorm:"not null"`
	EndTime     int64 `json:"end_time" gorm:"index;not null"`
}
