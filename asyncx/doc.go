// Package asyncx provides a thin, opinionated layer on top of asynq to enqueue
// and process background tasks while persisting lifecycle state in a
// relational database, with a redis side cache for terminal results.
//
// Quick start:
//  1. Open a database and run internal/database.Migrate.
//  2. Create asyncx.NewSQLStore(db, dialect).
//  3. Create a Client with NewClient(redis, store, ...). Submit writes the
//     pending record and enqueues the work item.
//  4. Create a Processor and register handlers via asynq.ServeMux. Handlers
//     drive tasks to a terminal state with a RetryPolicy and publish the
//     outcome to a ResultCache.
//  5. Read status through a StatusReader, which prefers the cache and falls
//     back to the store.
package asyncx
