/*
Package security handles command-bundle encryption and agent token minting.

Bundles uploaded to workers are encrypted with AES-CBC using the first 32
characters of the execution's bearer token as the key (PKCS#7 padding,
random IV prepended), so the agent can decrypt with nothing beyond the
token it already holds:

	key, _ := security.KeyFromToken(token)
	encrypted, _ := security.EncryptBundle(bundle, key)

TokenManager mints the bearer tokens themselves, caching one live token per
user for the configured TTL (default one hour) so repeated dispatches reuse
the same callback credential.
*/
package security
