package models

import "time"

// BlacklistEntry marks an identity as terminally blocked. There is no
// automatic expiry; removal is an explicit administrative action.
type BlacklistEntry struct {
	Identity string    `db:"identity"`
	Reason   string    `db:"reason"`
	AddedAt  time.Time `db:"added_at"`
}
