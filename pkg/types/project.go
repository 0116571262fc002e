package types

// Project groups conversations for one user.
type Project struct {
	ID     string      `json:"id"`
	UserID string      `json:"userID"`
	Name   string      `json:"name"`
	Time   ProjectTime `json:"time"`
}

// ProjectTime contains project timestamps.
type ProjectTime struct {
	Created int64 `json:"created"`
	Updated int64 `json:"updated"`
}
