// Package mysql provides the shared MySQL connection helpers and the schema
// migration runner used when the invocation store is backed by MySQL.
package mysql
