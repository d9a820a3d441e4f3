package httpapi

import "net/http"

// Register wires h's handlers onto mux, following the teacher's
// main.go registration style (one mux.HandleFunc call per route
// prefix; the two prefixes are disjoint, so order does not matter).
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/truth/", h.routeTruth)
	mux.HandleFunc("/policy/", h.routePolicy)
}

// routeTruth dispatches between POST /truth/$UUID and
// GET /truth/$UUID/challenge based on the path suffix.
func (h *Handlers) routeTruth(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Path) > len("/challenge") && r.URL.Path[len(r.URL.Path)-len("/challenge"):] == "/challenge" {
		h.HandleChallenge(w, r)
		return
	}
	h.HandleStoreTruth(w, r)
}

// routePolicy dispatches GET vs POST on /policy/$ACCOUNT_PUB[/$V].
func (h *Handlers) routePolicy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.HandleGetPolicy(w, r)
	case http.MethodPost:
		h.HandleStorePolicy(w, r)
	default:
		h.writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only GET and POST are allowed")
	}
}
