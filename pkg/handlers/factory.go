// factory.go implements the actor factory (spec §6 "/ (factory)"):
// creating a new actor. Grounded on the teacher's pkg/api/v1
// resource-creation handlers (POST returns 201 with a Location header
// pointing at the created resource).
package handlers

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

type createActorRequest struct {
	Creator    string `json:"creator"`
	Passphrase string `json:"passphrase"`
	ID         string `json:"id,omitempty"`
}

type actorResponse struct {
	ID         string `json:"id"`
	Creator    string `json:"creator"`
	URL        string `json:"url"`
	Passphrase string `json:"passphrase,omitempty"`
}

// getFactory answers GET "/": an empty discovery response (spec §6:
// the web-UI half of the factory is out of scope here).
func getFactory(_ *Deps, w http.ResponseWriter, _ *http.Request) error {
	return writeJSON(w, http.StatusOK, map[string]any{})
}

// createActor answers POST "/": creates a new actor and returns its id,
// creator and url, with a 201 + Location header (spec §6).
func createActor(deps *Deps, w http.ResponseWriter, r *http.Request) error {
	var req createActorRequest
	if err := readJSON(r, &req); err != nil {
		return err
	}
	generated := req.Passphrase == ""
	if generated {
		req.Passphrase = randomPassphrase()
	}
	baseURL := strings.TrimRight(deps.Config.SelfBaseURL, "/")
	a, err := deps.Actors.Create(r.Context(), req.ID, baseURL+"/", req.Creator, req.Passphrase)
	if err != nil {
		return err
	}
	deps.Hooks.Fire(r.Context(), "actor_created", a.ID, "")

	url := baseURL + "/" + a.ID
	w.Header().Set("Location", url)
	resp := actorResponse{ID: a.ID, Creator: a.Creator, URL: url}
	if generated {
		resp.Passphrase = req.Passphrase
	}
	body, _ := json.Marshal(resp)
	return writeRaw(w, http.StatusCreated, body)
}

func randomPassphrase() string {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	return base64.RawURLEncoding.EncodeToString(buf)
}
