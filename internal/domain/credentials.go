package domain

// Credentials is a per-user login pair for the timesheet application.
// Storage and encryption live elsewhere; this core only consumes the pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}
