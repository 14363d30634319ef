/*
Package session implements the gateway between the dialogue and the durable store.

The store is the only system of record. The gateway serialises writes to one
conversation inside the process with a refcounted mutex, optionally across instances
with a distributed lock, and relies on the store's versioned writes for correctness
when neither is enough.
*/
package session
