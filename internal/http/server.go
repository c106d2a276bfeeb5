package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/schemantics/agentflow/internal/log"
	"github.com/schemantics/agentflow/internal/parser"
	"github.com/schemantics/agentflow/pkg/models"
	"github.com/schemantics/agentflow/pkg/service"
	"github.com/schemantics/agentflow/pkg/storage"
)

// StartServer wires the handlers onto the default mux and blocks serving.
func StartServer(port string, svc *service.WorkflowService) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", WorkflowsHandler(svc))
	mux.HandleFunc("/workflows/", WorkflowByIDHandler(svc))

	log.GetLogger().Infof("Starting Agentflow server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// WorkflowsHandler serves GET /workflows (list) and POST /workflows
// (create from a definition document in the request body).
func WorkflowsHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			listWorkflowsHTTP(w, svc)
		case http.MethodPost:
			createWorkflowHTTP(w, r, svc)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

// WorkflowByIDHandler serves GET /workflows/{id}, GET /workflows/{id}/log
// and POST /workflows/{id}/execute.
func WorkflowByIDHandler(svc *service.WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/workflows/")
		parts := strings.SplitN(rest, "/", 2)
		id := parts[0]
		if id == "" {
			http.Error(w, "Missing workflow id", http.StatusBadRequest)
			return
		}
		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case r.Method == http.MethodGet && action == "":
			getWorkflowHTTP(w, svc, id)
		case r.Method == http.MethodGet && action == "log":
			getExecutionLogHTTP(w, svc, id)
		case r.Method == http.MethodPost && action == "execute":
			executeWorkflowHTTP(w, r, svc, id)
		default:
			http.Error(w, "Not found", http.StatusNotFound)
		}
	}
}

func createWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	def, err := parser.Parse(body)
	if err != nil {
		log.GetLogger().Errorf("Failed to parse workflow definition: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	wf, err := svc.CreateWorkflow(def)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			// Structural rejection: a distinct status, never a raw error.
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"workflow_id": def.ID,
				"status":      "REJECTED",
				"reason":      verr.Reason,
			})
			return
		}
		log.GetLogger().Errorf("Failed to create workflow: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

func listWorkflowsHTTP(w http.ResponseWriter, svc *service.WorkflowService) {
	workflows, err := svc.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

func getWorkflowHTTP(w http.ResponseWriter, svc *service.WorkflowService, id string) {
	wf, err := svc.GetWorkflow(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Workflow not found", http.StatusNotFound)
			return
		}
		log.GetLogger().Errorf("Failed to get workflow %s: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, wf)
}

func getExecutionLogHTTP(w http.ResponseWriter, svc *service.WorkflowService, id string) {
	recs, err := svc.GetExecutionLog(id)
	if err != nil {
		log.GetLogger().Errorf("Failed to get execution log for %s: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func executeWorkflowHTTP(w http.ResponseWriter, r *http.Request, svc *service.WorkflowService, id string) {
	result, err := svc.ExecuteWorkflow(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Workflow not found", http.StatusNotFound)
			return
		}
		log.GetLogger().Errorf("Failed to execute workflow %s: %v", id, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	// The envelope carries its own status; HTTP 200 either way.
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}
