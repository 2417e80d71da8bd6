// Package contract defines the data contract between the netstat event store
// and the components that produce or consume its records.
//
// The contract fixes everything that observers outside the store depend on
// bit-for-bit:
//   - Authority: the logical namespace every identifier starts with
//   - Collections: table name, item name and column set of each collection
//   - Type tags: vnd.android.cursor.dir/<item> and vnd.android.cursor.item/<item>
//
// # Layouts
//
// Two layouts exist. LayoutUnified stores every state change in a single
// "events" table. LayoutSplit supersedes it with one table per event family
// (phoneEvents, wifiEvents, batteryEvents). A store is opened with exactly one
// layout; switching layouts is handled by the schema package like a version
// upgrade.
//
// # Values
//
// Row values travel as Values (column name → Go value). Normalize converts
// caller input to the storage representation: booleans stay bool, every
// integer kind becomes int64, strings are kept exactly as given. sync_id is
// an external correlation key, so text must round-trip byte for byte.
package contract
