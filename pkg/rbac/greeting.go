package rbac

// Greeting returns the role-contextual greeting shown for a primary role
func Greeting(primary Role) string {
	switch primary {
	case TeachingAssistant:
		return "Welcome back. Your sections are waiting."
	case Teacher:
		return "Welcome back. Your courses are ready to teach."
	case Administrator:
		return "Welcome back. Here is how campus is doing."
	default:
		return "Welcome back. Pick up where you left off."
	}
}
