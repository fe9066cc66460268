// Package egress sends server-side configuration to control units.
//
// Every message is encoded as a tagged protocol envelope, compressed on
// the dispatch pool and published to egress/{unit_id}. Send waits for
// the broker's answer; Enqueue hands the message to the pool and lets
// the compress callback publish it.
//
// SyncRules rebuilds a unit's full rule list from the store and sends it
// as a replace, so the device converges on the stored state however many
// incremental updates it missed.
package egress
