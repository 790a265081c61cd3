package gateway

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/authn"
	"github.com/triggr/node/internal/value"
)

const maxDescriptorBytes = 1 << 20 // 1 MiB; generous headroom over any realistic contracts.json

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Console endpoints (bearer auth) -------------------------------------

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := authn.OwnerID(r.Context())

	if err := r.ParseMultipartForm(maxDescriptorBytes); err != nil {
		writeError(w, apierr.Validation("malformed multipart form: %v", err))
		return
	}
	projectName := r.FormValue("project_name")
	contractAddr := r.FormValue("contract_addr")
	description := r.FormValue("description")
	if projectName == "" || contractAddr == "" {
		writeError(w, apierr.Validation("project_name and contract_addr are required"))
		return
	}

	file, _, err := r.FormFile("contracts_json")
	if err != nil {
		writeError(w, apierr.Validation("contracts_json file is required: %v", err))
		return
	}
	defer file.Close()
	descriptor, err := io.ReadAll(io.LimitReader(file, maxDescriptorBytes))
	if err != nil {
		writeError(w, apierr.Validation("failed to read contracts_json: %v", err))
		return
	}

	proj, secret, err := s.registry.CreateProject(ownerID, projectName, description, contractAddr, descriptor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]interface{}{"project": proj, "secret": secret})
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := authn.OwnerID(r.Context())
	projects, err := s.registry.ListProjects(ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, projects)
}

func (s *Server) handleGetProjectConsole(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := authn.OwnerID(r.Context())
	apiKey := mux.Vars(r)["api_key"]
	proj, err := s.registry.GetProjectByAPIKey(apiKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if proj.OwnerID != ownerID {
		writeError(w, apierr.Forbidden("project %s is not owned by this caller", proj.ID))
		return
	}
	writeData(w, http.StatusOK, proj)
}

func (s *Server) handleDeleteProjectConsole(w http.ResponseWriter, r *http.Request) {
	ownerID, _ := authn.OwnerID(r.Context())
	apiKey := mux.Vars(r)["api_key"]
	proj, err := s.registry.GetProjectByAPIKey(apiKey)
	if err != nil {
		writeError(w, err)
		return
	}
	if proj.OwnerID != ownerID {
		writeError(w, apierr.Forbidden("project %s is not owned by this caller", proj.ID))
		return
	}
	if err := s.registry.DeleteProject(proj.ID); err != nil {
		writeError(w, err)
		return
	}
	s.triggers.ForgetProject(proj.ID)
	// spec.md §9 open question: deleting a project closes any WebSocket
	// subscriptions bound to its topics with an explicit reason frame.
	for _, sub := range s.bus.SubscribersForProject(proj.ID) {
		s.bus.RemoveSubscriber(sub)
		sub.Close()
	}
	writeMessage(w, http.StatusOK, "project deleted")
}

// --- Document Store endpoints (x-api-key auth) ----------------------------

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	colls, err := s.docs.ListCollections(proj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, colls)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	var body struct {
		Name string `json:"name"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	meta, err := s.docs.CreateCollection(proj.ID, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, meta)
}

func (s *Server) handleListDocs(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	collection := mux.Vars(r)["collection"]
	docs, err := s.docs.ListDocs(proj.ID, collection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, docs)
}

func (s *Server) handleInsertDoc(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	collection := mux.Vars(r)["collection"]
	var body struct {
		DocID string      `json:"doc_id"`
		Data  value.Value `json:"data"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.docs.InsertDoc(proj.ID, collection, body.DocID, body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDoc(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	vars := mux.Vars(r)
	doc, err := s.docs.GetDoc(proj.ID, vars["collection"], vars["docId"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handlePutDoc(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	vars := mux.Vars(r)
	var body struct {
		Data value.Value `json:"data"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.docs.PutDoc(proj.ID, vars["collection"], vars["docId"], body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handlePatchDoc(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	vars := mux.Vars(r)
	var body struct {
		Data value.Value `json:"data"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	doc, err := s.docs.PatchDoc(proj.ID, vars["collection"], vars["docId"], body.Data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDoc(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	vars := mux.Vars(r)
	if err := s.docs.DeleteDoc(proj.ID, vars["collection"], vars["docId"]); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "document deleted")
}

// --- Trigger endpoints (x-api-key auth) ------------------------------------

// requireOwnContract rejects a {contract} path var that doesn't match the
// caller's own project, so a valid api-key for project A can never be
// used to address project B's triggers by guessing its contract address.
func (s *Server) requireOwnContract(r *http.Request) error {
	proj, _ := authn.ProjectFromContext(r.Context())
	if mux.Vars(r)["contract"] != proj.ContractAddress {
		return apierr.NotFound("no project for contract %s", mux.Vars(r)["contract"])
	}
	return nil
}

func (s *Server) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	if err := s.requireOwnContract(r); err != nil {
		writeError(w, err)
		return
	}
	proj, _ := authn.ProjectFromContext(r.Context())
	triggers, err := s.triggers.ListTriggers(proj.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, triggers)
}

func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	proj, _ := authn.ProjectFromContext(r.Context())
	var body struct {
		ID           string `json:"id"`
		ContractAddr string `json:"contract_addr"`
		Description  string `json:"description"`
		Trigger      string `json:"trigger"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.ContractAddr != proj.ContractAddress {
		writeError(w, apierr.Validation("contract_addr does not match this project"))
		return
	}
	trig, err := s.triggers.CreateTrigger(proj.ID, body.ID, body.Description, body.Trigger)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusCreated, trig)
}

func (s *Server) handleSetTriggerState(w http.ResponseWriter, r *http.Request) {
	if err := s.requireOwnContract(r); err != nil {
		writeError(w, err)
		return
	}
	proj, _ := authn.ProjectFromContext(r.Context())
	triggerID := mux.Vars(r)["triggerId"]
	var body struct {
		Active bool `json:"active"`
	}
	if err := decodeJSONBody(r, &body); err != nil {
		writeError(w, err)
		return
	}
	trig, err := s.triggers.SetActive(proj.ID, triggerID, body.Active)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, trig)
}

func (s *Server) handleDeleteTrigger(w http.ResponseWriter, r *http.Request) {
	if err := s.requireOwnContract(r); err != nil {
		writeError(w, err)
		return
	}
	proj, _ := authn.ProjectFromContext(r.Context())
	triggerID := mux.Vars(r)["triggerId"]
	if err := s.triggers.DeleteTrigger(proj.ID, triggerID); err != nil {
		writeError(w, err)
		return
	}
	writeMessage(w, http.StatusOK, "trigger deleted")
}

func decodeJSONBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return apierr.Validation("malformed JSON body: %v", err)
	}
	return nil
}
