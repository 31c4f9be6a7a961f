// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package objectdb is a shared-memory transactional object database.

A single server process owns three shared memory segments: the object data
heap, the locator table mapping object ids to heap offsets, and the
transaction log slots. Client sessions connect over a local packet socket,
receive the segment descriptors, and run snapshot-isolated transactions
directly against the mapped memory. The server decides every commit and
persists committed transactions to an append-only log.

The subpackages are:

	store       objects, the heap allocator and locator tables
	txnlog      per-transaction mutation logs
	refchain    parent/child relationships built from reference slots
	catalog     schema metadata stored as system objects
	client      sessions and transactions
	server      the session server and transaction manager
	persistence the durable log writer and recovery reader
*/
package objectdb
