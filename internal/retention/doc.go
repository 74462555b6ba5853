// Package retention decides which backups to delete and deletes them.
//
// Evaluate is a pure function over a catalog snapshot; Evictor executes its
// plans through the catalog and re-checks real free space after each round.
package retention
