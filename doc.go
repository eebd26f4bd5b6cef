// Package rangereader provides a composable pipeline of readers that present
// a single abstraction for fetching arbitrary (offset, length) byte slices
// from heterogeneous backends (local files, ranged HTTP servers, and object
// stores reached over HTTP) and accelerates repeated access through layered
// caches.
//
// Backends (filereader, httpreader, s3reader, azurereader, gcsreader) and
// decorators (memcache, diskcache, blockaligned) all implement the Reader
// interface defined in this package and compose by wrapping one another. The
// provider subpackage discovers and dispatches the right backend for a URI.
package rangereader
