// Package gitinfo runs read-only git queries and captures their output.
//
// All Git operations are performed via os/exec calls to the git binary,
// rather than using a Git library like go-git, so the answers match what
// the user sees in their terminal (including their global config).
//
// Unlike a typical command wrapper, Client.Query never returns an error:
// a query that cannot be executed is turned into an inline "error: ..."
// string so the caller can print it and carry on with the next query.
package gitinfo
