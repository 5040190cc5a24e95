package models

// User is a registered account. Rows are immutable and never deleted.
type User struct {
	ID           int64  `db:"user_id" json:"user_id"`
	Username     string `db:"username" json:"username"`
	PasswordHash string `db:"password_hash" json:"-"`
	Salt         string `db:"salt" json:"-"`
}
