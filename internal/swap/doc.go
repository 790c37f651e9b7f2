// Package swap defines the request-scoped data model shared by every stage of
// the swap intent pipeline: the inbound request, retrieved context, the parsed
// intent, quote candidates, the chain snapshot and the terminal response.
// It also registers the failure taxonomy with the unified error registry.
package swap
