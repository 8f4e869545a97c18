package app

import (
	"net/http"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"

	socketio "github.com/googollee/go-socket.io"
	"github.com/gorilla/mux"
)

var SetupFuncs []func(*socketio.Server)
var Router = mux.NewRouter()

// MainSession and MainScheduler are the process-wide model session and
// job scheduler that the HTTP handlers operate on.
var MainSession = NewSession()
var MainScheduler = NewScheduler(MainSession)

type ArchitectureRequest struct {
	LayerSpecs []duotrain.LayerSpec `json:"layer_specs"`
	InputShape []int                `json:"input_shape"`
}

type StatusResponse struct {
	Status       string                `json:"status"`
	Error        string                `json:"error,omitempty"`
	LearningRate float64               `json:"learning_rate"`
	Backend      string                `json:"backend,omitempty"`
	Profile      *nn.Profile           `json:"profile,omitempty"`
	Job          *duotrain.TrainingJob `json:"job,omitempty"`
}

type PredictRequest struct {
	Input []float32 `json:"input"`
}

type PredictResponse struct {
	Confidence float32 `json:"confidence"`
	Label      int     `json:"label"`
}

type VisibilityRequest struct {
	Visible bool `json:"visible"`
}

type TrainRequest struct {
	DatasetID   int `json:"dataset_id"`
	TotalEpochs int `json:"total_epochs"`
	BatchSize   int `json:"batch_size"`
}

type LearningRateRequest struct {
	LearningRate float64 `json:"learning_rate"`
}

func statusResponse() StatusResponse {
	resp := StatusResponse{
		Status:       MainSession.Status().String(),
		LearningRate: MainSession.LearningRate(),
		Profile:      MainSession.Profile(),
		Job:          MainScheduler.Job(),
	}
	if err := MainSession.Err(); err != nil {
		resp.Error = err.Error()
	}
	if resp.Profile != nil {
		resp.Backend = resp.Profile.Selected
	}
	return resp
}

func init() {
	fileServer := http.FileServer(http.Dir("static/"))
	Router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", fileServer))
	Router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		fileServer.ServeHTTP(w, r)
	})

	Router.HandleFunc("/architecture", func(w http.ResponseWriter, r *http.Request) {
		var request ArchitectureRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		specs, err := duotrain.NormalizeLayerSpecs(request.LayerSpecs)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := MainSession.SetArchitecture(specs, request.InputShape); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("POST")

	Router.HandleFunc("/architecture", func(w http.ResponseWriter, r *http.Request) {
		specs, inputShape := MainSession.Architecture()
		duotrain.JsonResponse(w, ArchitectureRequest{
			LayerSpecs: specs,
			InputShape: inputShape,
		})
	}).Methods("GET")

	Router.HandleFunc("/train/start", func(w http.ResponseWriter, r *http.Request) {
		var request TrainRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		if request.BatchSize <= 0 {
			request.BatchSize = 1
		}
		if err := MainScheduler.StartTraining(request.DatasetID, request.TotalEpochs, request.BatchSize); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("POST")

	Router.HandleFunc("/train/stop", func(w http.ResponseWriter, r *http.Request) {
		MainScheduler.StopTraining()
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("POST")

	Router.HandleFunc("/train/status", func(w http.ResponseWriter, r *http.Request) {
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("GET")

	Router.HandleFunc("/predict", func(w http.ResponseWriter, r *http.Request) {
		var request PredictRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		conf, label, err := MainSession.Predict(request.Input)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		duotrain.JsonResponse(w, PredictResponse{
			Confidence: conf,
			Label:      label,
		})
	}).Methods("POST")

	Router.HandleFunc("/visibility", func(w http.ResponseWriter, r *http.Request) {
		var request VisibilityRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		MainScheduler.SetVisible(request.Visible)
		w.WriteHeader(200)
	}).Methods("POST")

	Router.HandleFunc("/learning-rate", func(w http.ResponseWriter, r *http.Request) {
		var request LearningRateRequest
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		if err := MainSession.SetLearningRate(request.LearningRate); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("POST")

	Router.HandleFunc("/reset", func(w http.ResponseWriter, r *http.Request) {
		MainScheduler.StopTraining()
		MainSession.Reset()
		duotrain.JsonResponse(w, statusResponse())
	}).Methods("POST")

	SetupFuncs = append(SetupFuncs, func(server *socketio.Server) {
		server.OnConnect("/", func(s socketio.Conn) error {
			s.Join("trainer")
			return nil
		})
		MainScheduler.OnEpochStart(func(progress duotrain.Progress) {
			server.BroadcastToRoom("/", "trainer", "epoch-start", progress)
		})
		MainScheduler.OnProgress(func(progress duotrain.Progress) {
			server.BroadcastToRoom("/", "trainer", "progress", progress)
		})
		MainScheduler.OnDone(func(job duotrain.TrainingJob) {
			server.BroadcastToRoom("/", "trainer", "job-done", job)
		})
	})
}
