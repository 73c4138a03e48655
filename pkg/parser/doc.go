// Package parser splits raw command text into ordered statements per
// database family: semicolon splitting with annotation capture for MySQL,
// a block-aware scanner for Oracle PL/SQL, and line splitting for scripts.
package parser
