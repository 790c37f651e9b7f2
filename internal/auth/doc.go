// Package auth guards the REST API with static API keys. Each key maps to a
// named subject carrying a permission set; the middleware rejects requests
// lacking the permission a route requires and records denials in the audit log.
package auth
