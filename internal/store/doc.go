// Package store defines the crawl progress repository. Implementations live
// in the storage packages; this package must not import database drivers or
// concrete clients.
package store
