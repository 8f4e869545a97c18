package app

import (
	"net/http"

	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"

	gouuid "github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
)

// Dataset is a named set of fixed-size normalized input tensors, each
// paired with a binary label. Shape is the per-sample input shape.
type Dataset struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

func datasetListHelper(rows *Rows) []*Dataset {
	datasets := []*Dataset{}
	for rows.Next() {
		var ds Dataset
		var shape string
		rows.Scan(&ds.ID, &ds.Name, &shape)
		duotrain.JsonUnmarshal([]byte(shape), &ds.Shape)
		datasets = append(datasets, &ds)
	}
	return datasets
}

func ListDatasets() []*Dataset {
	rows := db.Query("SELECT id, name, shape FROM datasets ORDER BY id")
	return datasetListHelper(rows)
}

func GetDataset(id int) *Dataset {
	rows := db.Query("SELECT id, name, shape FROM datasets WHERE id = ?", id)
	datasets := datasetListHelper(rows)
	if len(datasets) == 1 {
		return datasets[0]
	}
	return nil
}

func NewDataset(name string, shape []int) *Dataset {
	res := db.Exec(
		"INSERT INTO datasets (name, shape) VALUES (?, ?)",
		name, string(duotrain.JsonMarshal(shape)),
	)
	return GetDataset(res.LastInsertId())
}

// AddItem stores one sample. The tensor must match the dataset shape and
// the label must be binary.
func (ds *Dataset) AddItem(data []float32, label float32) error {
	if len(data) != nn.NumElems(ds.Shape) {
		return errors.Errorf("sample has %d values, dataset shape %v wants %d",
			len(data), ds.Shape, nn.NumElems(ds.Shape))
	}
	if label != 0 && label != 1 {
		return errors.Errorf("label must be 0 or 1, got %v", label)
	}
	db.Exec(
		"INSERT INTO items (dataset_id, k, data, label) VALUES (?, ?, ?, ?)",
		ds.ID, gouuid.New().String(), string(duotrain.JsonMarshal(data)), label,
	)
	return nil
}

// LoadSamples reads every sample of a dataset. An unknown dataset is an
// error; an empty one is not (the trainer decides what empty means).
func LoadSamples(datasetID int) ([][]float32, []float32, error) {
	ds := GetDataset(datasetID)
	if ds == nil {
		return nil, nil, errors.Errorf("no such dataset %d", datasetID)
	}
	rows := db.Query("SELECT data, label FROM items WHERE dataset_id = ? ORDER BY id", datasetID)
	var inputs [][]float32
	var labels []float32
	for rows.Next() {
		var data string
		var label float64
		rows.Scan(&data, &label)
		var x []float32
		duotrain.JsonUnmarshal([]byte(data), &x)
		inputs = append(inputs, x)
		labels = append(labels, float32(label))
	}
	return inputs, labels, nil
}

type DatasetSamples struct {
	Inputs [][]float32 `json:"inputs"`
	Labels []float32   `json:"labels"`
}

func init() {
	Router.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		duotrain.JsonResponse(w, ListDatasets())
	}).Methods("GET")

	Router.HandleFunc("/datasets", func(w http.ResponseWriter, r *http.Request) {
		var request Dataset
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		duotrain.JsonResponse(w, NewDataset(request.Name, request.Shape))
	}).Methods("POST")

	Router.HandleFunc("/datasets/{ds_id}", func(w http.ResponseWriter, r *http.Request) {
		dsID := duotrain.ParseInt(mux.Vars(r)["ds_id"])
		ds := GetDataset(dsID)
		if ds == nil {
			http.Error(w, "no such dataset", 404)
			return
		}
		duotrain.JsonResponse(w, ds)
	}).Methods("GET")

	Router.HandleFunc("/datasets/{ds_id}/items", func(w http.ResponseWriter, r *http.Request) {
		dsID := duotrain.ParseInt(mux.Vars(r)["ds_id"])
		ds := GetDataset(dsID)
		if ds == nil {
			http.Error(w, "no such dataset", 404)
			return
		}
		var request struct {
			Data  []float32 `json:"data"`
			Label float32   `json:"label"`
		}
		if err := duotrain.ParseJsonRequest(w, r, &request); err != nil {
			return
		}
		if err := ds.AddItem(request.Data, request.Label); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
	}).Methods("POST")

	// standalone workers fetch dataset samples from here
	Router.HandleFunc("/datasets/{ds_id}/samples", func(w http.ResponseWriter, r *http.Request) {
		dsID := duotrain.ParseInt(mux.Vars(r)["ds_id"])
		inputs, labels, err := LoadSamples(dsID)
		if err != nil {
			http.Error(w, err.Error(), 404)
			return
		}
		duotrain.JsonResponse(w, DatasetSamples{Inputs: inputs, Labels: labels})
	}).Methods("GET")
}
