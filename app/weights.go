package app

import (
	"log"
	"net/http"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// SavedWeights is a named weight snapshot persisted in the database.
type SavedWeights struct {
	ID       int
	Name     string
	Snapshot duotrain.WeightSnapshot
}

func ListSavedWeights() []string {
	rows := db.Query("SELECT name FROM weights ORDER BY name")
	var names []string
	for rows.Next() {
		var name string
		rows.Scan(&name)
		names = append(names, name)
	}
	return names
}

func GetSavedWeights(name string) *SavedWeights {
	rows := db.Query("SELECT id, name, snapshot FROM weights WHERE name = ?", name)
	defer rows.Close()
	if !rows.Next() {
		return nil
	}
	var saved SavedWeights
	var raw string
	rows.Scan(&saved.ID, &saved.Name, &raw)
	duotrain.JsonUnmarshal([]byte(raw), &saved.Snapshot)
	return &saved
}

func SaveWeights(name string, snapshot duotrain.WeightSnapshot) {
	raw := string(duotrain.JsonMarshal(snapshot))
	db.Exec(
		"INSERT INTO weights (name, snapshot) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET snapshot = excluded.snapshot",
		name, raw,
	)
}

// ExportWeights snapshots the session model's current parameters.
func ExportWeights() (duotrain.WeightSnapshot, error) {
	if err := MainSession.EnsureReady(); err != nil {
		return nil, err
	}
	model := MainSession.Model()
	if model == nil {
		return nil, errors.Errorf("no compiled model")
	}
	return nn.Extract(model), nil
}

// ImportWeights installs a snapshot into the session model. A snapshot
// that does not match the compiled architecture leaves the current
// weights untouched.
func ImportWeights(snapshot duotrain.WeightSnapshot) error {
	if MainScheduler.Job() != nil && MainScheduler.Job().Active {
		return errors.Errorf("cannot import weights while a job is active")
	}
	if err := MainSession.EnsureReady(); err != nil {
		return err
	}
	model := MainSession.Model()
	if model == nil {
		return errors.Errorf("no compiled model")
	}
	if err := nn.Apply(model, snapshot); err != nil {
		log.Printf("[weights] import rejected, keeping current weights: %v", err)
		return err
	}
	return nil
}

type WeightsSaveRequest struct {
	Name     string                  `json:"name"`
	Snapshot duotrain.WeightSnapshot `json:"snapshot,omitempty"`
}

func init() {
	Router.HandleFunc("/weights", func(w http.ResponseWriter, r *http.Request) {
		duotrain.JsonResponse(w, ListSavedWeights())
	}).Methods("GET")

	// export the live model weights
	Router.HandleFunc("/weights/export", func(w http.ResponseWriter, r *http.Request) {
		snapshot, err := ExportWeights()
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		duotrain.JsonResponse(w, snapshot)
	}).Methods("GET")

	// save the live model weights (or a provided snapshot) under a name
	Router.HandleFunc("/weights", func(w http.ResponseWriter, r *http.Request) {
		var request WeightsSaveRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		if request.Name == "" {
			http.Error(w, "name is required", 400)
			return
		}
		snapshot := request.Snapshot
		if snapshot == nil {
			var err error
			snapshot, err = ExportWeights()
			if err != nil {
				http.Error(w, err.Error(), 400)
				return
			}
		}
		if err := snapshot.Validate(); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		SaveWeights(request.Name, snapshot)
		w.WriteHeader(200)
	}).Methods("POST")

	Router.HandleFunc("/weights/{name}", func(w http.ResponseWriter, r *http.Request) {
		saved := GetSavedWeights(mux.Vars(r)["name"])
		if saved == nil {
			http.Error(w, "no such weights", 404)
			return
		}
		duotrain.JsonResponse(w, saved.Snapshot)
	}).Methods("GET")

	// load named weights into the live model
	Router.HandleFunc("/weights/{name}/import", func(w http.ResponseWriter, r *http.Request) {
		saved := GetSavedWeights(mux.Vars(r)["name"])
		if saved == nil {
			http.Error(w, "no such weights", 404)
			return
		}
		if err := ImportWeights(saved.Snapshot); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		w.WriteHeader(200)
	}).Methods("POST")
}
