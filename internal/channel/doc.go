// Package channel persists the channels a bridge has materialized on the
// host.
//
// A channel is the host-side record of a bridge slot: its id, the device
// route and key path it is read from, its value kind and presentation
// hints. Channels are created once and never recreated, so the Store is
// the authority on whether a slot already exists.
//
//	store := channel.NewStore(channel.NewSQLiteRepository(db.DB), "octoprint")
//	if err := store.Load(ctx); err != nil {
//	    return err
//	}
//	created, err := store.CreateIfNotExists(ctx, ch)
package channel
