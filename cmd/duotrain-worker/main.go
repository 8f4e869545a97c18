package main

import (
	"github.com/duotrain/duotrain/duotrain"
	"github.com/duotrain/duotrain/nn"
	"github.com/duotrain/duotrain/worker"

	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
)

func main() {
	addr := flag.String("addr", ":8081", "bind address")
	coordinatorURL := flag.String("url", "http://localhost:8080", "coordinator URL")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	duotrain.SeedRand()

	backend, profile, err := nn.SelectBackend(nn.DefaultCandidates())
	if err != nil {
		panic(err)
	}
	log.Printf("[worker] using backend %s", profile.Selected)

	loader := func(datasetID int) ([][]float32, []float32, error) {
		var samples struct {
			Inputs [][]float32 `json:"inputs"`
			Labels []float32   `json:"labels"`
		}
		err := duotrain.JsonGet(*coordinatorURL, fmt.Sprintf("/datasets/%d/samples", datasetID), &samples)
		if err != nil {
			return nil, nil, err
		}
		return samples.Inputs, samples.Labels, nil
	}

	emit := func(raw []byte) {
		var env duotrain.Envelope
		if err := env.UnmarshalFrom(raw); err != nil {
			log.Printf("[worker] dropping malformed envelope: %v", err)
			return
		}
		if err := duotrain.JsonPost(*coordinatorURL, "/worker/progress", env, nil); err != nil {
			log.Printf("[worker] progress post failed: %v", err)
		}
	}

	runner := worker.NewRunner(backend, loader, emit)

	http.HandleFunc("/channel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			w.WriteHeader(404)
			return
		}
		body, err := ioutil.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		reply := runner.Handle(body)
		if reply == nil {
			// STOP has no direct reply
			w.WriteHeader(200)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(reply)
	})

	log.Printf("starting on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		panic(err)
	}
}
