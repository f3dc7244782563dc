// Package middleware holds the gin middleware shared by every route: CORS,
// per-IP and global rate limits, request ids and access logging.
package middleware
