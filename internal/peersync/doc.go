// Package peersync keeps the two device replicas converging by exchanging
// sync messages.
//
// Overview
//
// The Coordinator sits between the local replica and a Transport:
//
//	replica / ledger ──Change──▶ Coordinator.Observe ──Message──▶ Transport
//	                                                              ├── immediate (peer reachable)
//	                                                              └── durable queue (fallback)
//
//	peer ──Message──▶ Coordinator.Receive ──▶ replica / ledger ──▶ notify
//
// Outbound delivery is fire-and-forget. A local write has already committed
// when its change is observed, and nothing the transport does can unwind it.
// Transport failures are logged and the message falls back to the queue.
//
// Conflict resolution
//
// Inbound messages are applied as last-write-wins with no timestamp check:
// whatever arrives last replaces local state. This includes ledger entries,
// whose duration is overwritten rather than summed. A device that added time
// locally after the peer took its snapshot loses that local increment when
// the snapshot arrives.
//
// Full resync
//
// A resync request makes the receiving coordinator re-send a create message
// for every local activity. Ledger entries and goals are not re-sent; use a
// bundle export for that.
//
// Usage
//
//	coord := peersync.New(peersync.Config{
//	    Replica:   replicaStore,
//	    Ledger:    ledger,
//	    Transport: dual,
//	    Publisher: bus,
//	})
//	replicaStore.SetObserver(coord)
//	ledger.SetObserver(coord)
//	defer coord.Wait()
package peersync
