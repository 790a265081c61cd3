package registry

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/triggr/node/internal/apierr"
	"github.com/triggr/node/internal/kv"
	"github.com/triggr/node/internal/store"
	"github.com/triggr/node/pkg/logger"
)

// Registry is the Contract Registry (C3): project records, API-key
// issuance/lookup, and descriptor parsing. It shares the document store's
// kv.Engine rather than owning a second one, since project records live in
// the same key space DeleteProjectData already cascades over.
type Registry struct {
	engine *kv.Engine
	store  *store.Store
	log    *logger.Logger
	now    func() time.Time
}

// New constructs a Registry. docs is used only for cascading deletes. log
// may be nil in tests that don't care about diagnostic output.
func New(engine *kv.Engine, docs *store.Store, log *logger.Logger) *Registry {
	return &Registry{engine: engine, store: docs, log: log, now: time.Now}
}

// CreateProject parses the uploaded descriptor and persists a new project
// record. The returned apiKey is plaintext and shown to the caller exactly
// once (spec.md §6); only its hash is ever stored.
func (r *Registry) CreateProject(ownerID, projectName, description, contractAddress string, descriptor []byte) (Project, string, error) {
	events, contractHash, _, err := parseDescriptor(descriptor)
	if err != nil {
		return Project{}, "", err
	}

	apiKey, err := generateAPIKey()
	if err != nil {
		return Project{}, "", apierr.Wrap(apierr.CodeInternal, "generate api key", err)
	}

	proj := Project{
		ID:              uuid.NewString(),
		APIKeyHash:      hashAPIKey(apiKey),
		ProjectName:     projectName,
		Description:     description,
		ContractAddress: contractAddress,
		ContractHash:    contractHash,
		OwnerID:         ownerID,
		CreatedAt:       r.now().UTC(),
		EventSchema:     events,
	}

	if err := r.putProject(proj); err != nil {
		return Project{}, "", err
	}
	if err := r.engine.Put(apiKeyIndexKey(proj.APIKeyHash), kv.WrapRecord([]byte(proj.ID))); err != nil {
		return Project{}, "", err
	}
	if r.log != nil {
		r.log.WithFields(map[string]interface{}{"project_id": proj.ID, "contract": projectName}).
			Info("registered contract descriptor: " + describeResolution(events))
	}
	return proj, apiKey, nil
}

// GetProject fetches a project by internal id.
func (r *Registry) GetProject(projectID string) (Project, error) {
	raw, err := r.engine.Get(projectKey(projectID))
	if err != nil {
		if svcErr, ok := apierr.As(err); ok && svcErr.Code == apierr.CodeNotFound {
			return Project{}, apierr.NotFound("project %s", projectID)
		}
		return Project{}, err
	}
	payload, err := kv.UnwrapRecord(raw)
	if err != nil {
		return Project{}, err
	}
	var proj Project
	if err := json.Unmarshal(payload, &proj); err != nil {
		return Project{}, apierr.Wrap(apierr.CodeStorage, "decode project", err)
	}
	return proj, nil
}

// GetProjectByAPIKey resolves the caller's x-api-key header to its project,
// Unauthorized if the key is unknown (spec.md §6).
func (r *Registry) GetProjectByAPIKey(plaintextKey string) (Project, error) {
	projectIDRaw, err := r.engine.Get(apiKeyIndexKey(hashAPIKey(plaintextKey)))
	if err != nil {
		if svcErr, ok := apierr.As(err); ok && svcErr.Code == apierr.CodeNotFound {
			return Project{}, apierr.New(apierr.CodeUnauthorized, "unknown api key")
		}
		return Project{}, err
	}
	projectID, err := kv.UnwrapRecord(projectIDRaw)
	if err != nil {
		return Project{}, err
	}
	return r.GetProject(string(projectID))
}

// ListProjects returns every project owned by ownerID.
func (r *Registry) ListProjects(ownerID string) ([]Project, error) {
	entries, err := r.engine.ScanPrefix(projectPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(entries))
	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return nil, err
		}
		var proj Project
		if err := json.Unmarshal(payload, &proj); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorage, "decode project", err)
		}
		if proj.OwnerID == ownerID {
			out = append(out, proj)
		}
	}
	return out, nil
}

// ListAllProjects returns every project across every owner, used by the
// chain ingester supervisor to discover which (endpoint, contract
// address) subscriptions to maintain.
func (r *Registry) ListAllProjects() ([]Project, error) {
	entries, err := r.engine.ScanPrefix(projectPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(entries))
	for _, e := range entries {
		payload, err := kv.UnwrapRecord(e.Value)
		if err != nil {
			return nil, err
		}
		var proj Project
		if err := json.Unmarshal(payload, &proj); err != nil {
			return nil, apierr.Wrap(apierr.CodeStorage, "decode project", err)
		}
		out = append(out, proj)
	}
	return out, nil
}

// DeleteProject removes the project record, its API key index entry, and
// cascades to every trigger/collection/document the project owns
// (spec.md §3).
func (r *Registry) DeleteProject(projectID string) error {
	proj, err := r.GetProject(projectID)
	if err != nil {
		return err
	}
	if err := r.engine.Delete(apiKeyIndexKey(proj.APIKeyHash)); err != nil {
		return err
	}
	return r.store.DeleteProjectData(projectID)
}

func (r *Registry) putProject(proj Project) error {
	raw, err := json.Marshal(proj)
	if err != nil {
		return apierr.Wrap(apierr.CodeStorage, "encode project", err)
	}
	return r.engine.Put(projectKey(proj.ID), kv.WrapRecord(raw))
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "trg_" + hex.EncodeToString(buf), nil
}

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}
