package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an API call.
type ActionResource struct {
	Action   string
	Resource string
}

// Skip reports whether the call should not be audited.
func (ar ActionResource) Skip() bool {
	return ar.Action == ""
}

// ParseCall returns action and resource for a REST call against the EventSphere API
// (e.g. POST /events/events/12/join/ -> event.join on event:12). Reads and session
// endpoints return the zero value: reads are not audited and the session manager records
// its own lifecycle events.
func ParseCall(method, path string) ActionResource {
	if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
		return ActionResource{}
	}
	segs := splitPath(path)
	if len(segs) == 0 || segs[0] == "accounts" {
		return ActionResource{}
	}
	if segs[0] != "events" || len(segs) < 2 {
		return ActionResource{Action: strings.ToLower(method), Resource: strings.Join(segs, "/")}
	}

	switch segs[1] {
	case "events":
		switch {
		case len(segs) == 2 && method == http.MethodPost:
			return ActionResource{Action: "event.create", Resource: "event"}
		case len(segs) == 3 && segs[2] == "scan-qr":
			return ActionResource{Action: "ticket.scan", Resource: "ticket"}
		case len(segs) == 4 && segs[3] == "join":
			return ActionResource{Action: "event.join", Resource: "event:" + segs[2]}
		case len(segs) == 3:
			return ActionResource{Action: "event." + methodToAction(method), Resource: "event:" + segs[2]}
		}
	case "payments":
		switch {
		case len(segs) == 4 && segs[2] == "confirm":
			return ActionResource{Action: "payment.confirm", Resource: "registration:" + segs[3]}
		case len(segs) == 4 && segs[2] == "create":
			return ActionResource{Action: "payment.create", Resource: "registration:" + segs[3]}
		case len(segs) == 3 && segs[2] == "verify":
			return ActionResource{Action: "payment.verify", Resource: "payment"}
		}
	case "admin":
		if len(segs) == 5 && segs[2] == "events" && segs[4] == "approve" {
			return ActionResource{Action: "event.approve", Resource: "event:" + segs[3]}
		}
	}
	return ActionResource{Action: methodToAction(method), Resource: strings.Join(segs[1:], "/")}
}

func splitPath(path string) []string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func methodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
