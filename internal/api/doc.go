// Package api exposes the HTTP surface of the lead generation service: the
// streaming search endpoint, job lookups, result exports and health endpoints.
package api
