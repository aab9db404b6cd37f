/*
Package testservers keeps track of the temporary test servers handed out to
members.

Servers are keyed by their id and record the owning user, a display name and
the time they expire. A user may own DefaultUserLimit servers unless an admin
set a higher limit with SetUserLimit.

The ExpiryTask runs every few minutes. It hands every expired server to a
Reaper, which deletes it at the hosting provider, and removes it from the
store once that succeeded. Servers whose deletion failed stay in the store and
are retried on the next run.
*/
package testservers
