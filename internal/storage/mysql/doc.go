// Package mysql opens MySQL connection pools and applies the embedded schema
// migrations shared by the MySQL-backed ledger.
package mysql
