// Package runs records every pipeline command in a SQLite database kept in
// the results root, so past runs, their results directories and their final
// metrics can be listed without walking the file system.
//
// Schema changes bump schemaVersion in schema.go; an existing database with
// another version is rejected with ErrSchemaMismatch and has to be deleted.
package runs
