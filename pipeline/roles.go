// Package pipeline provides the components of the ring: a Source that
// produces and verifies values, a Relay that forwards them, a Terminal that
// answers and feeds them back, and an Echo for web clients.
package pipeline

// Role names components bind their connections under.
const (
	RoleOut      = "connection_out"
	RoleIn       = "connection_in"
	RoleForward  = "connection_forward"
	RoleFeedback = "connection_feedback"
	RoleWeb      = "web_connection"
	RoleLog      = "log_connection"
)
