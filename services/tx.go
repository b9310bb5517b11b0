package services

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// forUpdate row-locks the subsequent read for the rest of the transaction.
// Mutating flows lock the rows they check-then-set (entries, contests,
// profiles, options) so concurrent requests and the maintenance job serialize
// per row instead of racing under READ COMMITTED. The sqlite driver used by
// the test stores drops the clause; sqlite writes are single-writer anyway.
func forUpdate(db *gorm.DB) *gorm.DB {
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}
