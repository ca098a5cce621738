// Package resolver provides the client for the bulk name to profile lookup
// API that decides which identifier currently owns a display name.
//
// One call accepts up to 100 names and returns profiles only for the names
// the authority recognises. Missing names are not an error. Transport
// failures, non-200 responses, undecodable bodies, ids that are not UUIDs
// and empty answers are reported as a *BatchError and the batch is left
// untouched.
package resolver
