// Package logclient provides the client-side abstractions for append-only,
// position-indexed logs.
//
// This package defines the abstractions the relay is built on:
//   - Record: an opaque payload plus the offset the log server assigned to it
//   - Transport: a session against a log server (subscribe, read-last, append)
//   - Subscription: a lazily produced, cancellable sequence of records
//   - Writer: an append-only handle on a single log
//   - Client: the LogClient operations (OpenReader, OpenWriter, Append, ReadLast)
//
// The interfaces use Go idioms:
//   - context.Context on every blocking call; a follow-mode Next returns as
//     soon as the context is cancelled
//   - io.EOF marks the end of a finite (non-follow) subscription
//   - io.Closer for releasing subscriptions, writers and sessions
//
// Example usage:
//
//	client := logclient.NewClient(transport)
//
//	sub, err := client.OpenReader(ctx, "gdax", 42, true)
//	if err != nil {
//		return err
//	}
//	defer sub.Close()
//
//	for {
//		record, err := sub.Next(ctx)
//		if err != nil {
//			return err
//		}
//		process(record)
//	}
package logclient
