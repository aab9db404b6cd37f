// Package docstore keeps one typed document in memory and mirrors it to a
// file. Every feature of the bot owns one store (lorax events, linked
// accounts, stat bars, test servers, recordings) and shares its handle with
// the command handlers and background tasks that use it.
//
// Access:
//
//   - Read(s, view) runs view against the current document. Any number of
//     reads run in parallel, they never touch the disk and never wait for a
//     write that is being persisted.
//
//   - Write(s, mutate) runs mutate against a private copy of the document,
//     encodes the copy and writes it to disk. Only then does the copy become
//     the current document. Writes to one store are serialised, so a mutate
//     function always sees every write that returned before it started and
//     no update is lost.
//
// Copies are made with the document's Clone method if it implements Cloner,
// otherwise by decoding the last committed bytes. Documents implementing
// Initializer get Init called on every fresh or decoded value, which is
// where nil maps are replaced.
//
// Persistence:
//
//	Every encoded document is handed to a single save goroutine per store
//	through an unbounded queue. The goroutine writes whole files through the
//	FileSystem (the OS implementation writes a temp file and renames it) and
//	holds an advisory lock on <path>.lock while doing so. A failing write is
//	retried Options.Retries times with Options.RetryDelay in between.
//
//	If the disk does not answer within Options.WriteTimeout, Write returns
//	ErrTimeout but keeps the new document in memory and lets the save finish
//	in the background ("emergency save"). Because all saves go through the
//	same queue in order, a later write can never be overwritten by an older
//	one, and if several saves pile up only the newest is written.
//
// Loading:
//
//	Open reads the file if it exists. A file that cannot be decoded is
//	logged at error level, moved to <path>.corrupt-<timestamp> (unless
//	Options.BackupCorrupt is off) and replaced by the default document.
//
// Errors:
//
//	All failures are *Error values with an ErrorCode. Use errors.Is with
//	ErrIO, ErrCodec, ErrApplication, ErrTimeout or ErrClosed to classify
//	them. Errors returned by a mutate function are wrapped as
//	ErrApplication and can be matched with errors.Is / errors.As as well.
//
// Metrics:
//
//	Each store exports docstore_* series labelled with its name to the
//	default VictoriaMetrics set.
package docstore
