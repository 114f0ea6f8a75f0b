// Package session manages anonymous viewer sessions. It handles session
// creation, lookup, expiration, and the set of streams a connection is
// watching, backed by Redis.
package session
