// Package database provides the PostgreSQL connection pool and schema used
// to record observations of session state.
package database
