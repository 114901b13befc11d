package engine

var views = map[string]Access{
	"login":        Public,
	"login-google": Public,
	"register":     Public,
	"logout":       Public,
	"doctor":       Public,
	"whoami":       Public,
	"events":       Protected,
	"event":        Protected,
	"join":         Protected,
	"pay":          Protected,
	"my-events":    Protected,
	"ticket":       Protected,
	"tickets":      Protected,
	"create-event": Protected,
	"hosted":       Protected,
	"attendees":    Protected,
	"scan":         Protected,
	"audit":        Protected,
	"pending":      Admin,
	"approve":      Admin,
}

// ViewFor returns the view for a command name. Unknown names are protected.
func ViewFor(name string) View {
	access, ok := views[name]
	if !ok {
		access = Protected
	}
	return View{Name: name, Access: access}
}
