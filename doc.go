/*
Package adclient provides a pooled, concurrency-bounded client layer for bulk
queries against an LDAP-style directory service such as Active Directory.

The package is organized into several core components:

  - Client: the public facade tying pooling, limiting and caching together
  - Pool: bounded connection pooling with liveness validation on both borrow
    and return
  - ConcurrencyLimiter: a counting semaphore bounding in-flight directory
    operations independently of pool size
  - RecordStream: lazy, cancellable paged search results
  - Batch resolution: parallel fan-out of large identifier lists with
    partial-failure tolerance
  - ResultCache: TTL-bounded caching of whole-query results

# Connection Management

Connections are established through the Connector interface; the default
implementation dials with go-ldap, optionally upgrades to TLS, and binds with
either simple or Kerberos (GSSAPI) credentials. Pooled handles are validated
with a cheap root-DSE probe before reuse and again on return, so handles
broken by a remote-side timeout or server restart are discarded before they
reach a caller doing real work.

# Memory-Bounded Searches

StreamSearch drives the server's paged-results control and yields records
one at a time through a RecordStream, so arbitrarily large result sets are
never materialized in memory. ResolveBatch partitions large identifier lists
into fixed-size batches and resolves them concurrently, one OR-filter query
per batch; a failing batch contributes zero records and a failure count
instead of aborting its siblings.

# Error Handling

Operations return structured *OpError values carrying the operation name,
the filter or DN involved, and a coarse Kind (connect, timeout, search) for
the calling layer to act on. Pool lifecycle conditions are reported through
the ErrPoolClosed and ErrPoolExhausted sentinels, and cooperative
cancellation through ErrOperationCancelled.
*/
package adclient
