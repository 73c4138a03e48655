/*
Package client is a thin HTTP client for the Behemoth control API.

It is used by the behemoth CLI to create and start plans, upload command
files, inspect executions, and register workers, assets, and
environments. Errors from the API surface the server's detail message
when one is present.
*/
package client
