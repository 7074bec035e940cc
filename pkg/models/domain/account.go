package domain

// Account is a child account the parent assumes a role into.
type Account struct {
	ID   string
	Name string
}
