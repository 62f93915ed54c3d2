package cache

// strErr is a lightweight error type, avoiding an import of std "errors"
// for plain sentinel values.
type strErr struct{ s string }

func (e *strErr) Error() string { return e.s }

func errorsNew(s string) error { return &strErr{s} }

// ErrNoCacheSpace is returned by FindOrCreate when an entry's buffer could
// not be allocated because the backing allocator is out of space and
// MakeSpace could not free enough of it. It is retriable: the caller may
// invoke FindOrCreate again, typically after its own backoff.
var ErrNoCacheSpace = errorsNew("cache: no cache space")

// ErrClosed is returned by operations on a Cache after Close.
var ErrClosed = errorsNew("cache: closed")

// ErrNoLoader reports that no Loader was provided. No function in this
// package returns it.
var ErrNoLoader = errorsNew("cache: no loader provided")
