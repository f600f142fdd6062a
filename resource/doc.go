// Package resource provides the sharded handle table that backs the
// resource registry.
//
// Entries are stored in per-shard arenas with free-list slot reuse, so a
// Handle stays valid and stable until the entry is dropped. Every entry is
// also indexed by a string key; the shard for a key is chosen by hashing it,
// which keeps unrelated keys on separate locks.
//
//	table := resource.NewTable[*Record](32)
//
//	h, err := table.Create("localhost:www", rec)
//	h, rec, ok := table.Lookup("localhost:www")
//	err = table.Update(h, func(r *Record) (*Record, error) { ... })
//
// # Borrows
//
// A borrow marks an entry as in use by an in-flight operation. Drop refuses
// entries with outstanding borrows:
//
//	table.Borrow(h)
//	defer table.ReturnBorrow(h)
//
// # Observers
//
// Register observers to track entry lifecycle events:
//
//	table.AddObserver(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Type == resource.EventCreated {
//	        log.Printf("%s created", e.Key)
//	    }
//	}))
//
// Observers run synchronously after the shard lock is released.
package resource
