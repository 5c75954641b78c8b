// Package store defines interfaces for persistence dependencies (the task
// repository backing the polling endpoints). Implementations live in other
// packages; this package must not import database drivers or concrete
// clients.
package store
