package app

import (
	"net/http"

	"github.com/duotrain/duotrain/duotrain"

	gouuid "github.com/google/uuid"
	"github.com/gorilla/mux"
)

type DBJob struct{ duotrain.Job }

const JobQuery = "SELECT id, uuid, dataset_id, start_time, state, done, error FROM jobs"

func jobListHelper(rows *Rows) []*DBJob {
	jobs := []*DBJob{}
	for rows.Next() {
		var j DBJob
		rows.Scan(&j.ID, &j.UUID, &j.DatasetID, &j.StartTime, &j.State, &j.Done, &j.Error)
		jobs = append(jobs, &j)
	}
	return jobs
}

func ListJobs() []*DBJob {
	rows := db.Query(JobQuery + " ORDER BY id DESC")
	return jobListHelper(rows)
}

func GetJob(id int) *DBJob {
	rows := db.Query(JobQuery+" WHERE id = ?", id)
	jobs := jobListHelper(rows)
	if len(jobs) == 1 {
		return jobs[0]
	}
	return nil
}

func NewJob(datasetID int) *DBJob {
	res := db.Exec(
		"INSERT INTO jobs (uuid, dataset_id, start_time) VALUES (?, ?, datetime('now'))",
		gouuid.New().String(), datasetID,
	)
	return GetJob(res.LastInsertId())
}

// UpdateState persists the live TrainingJob as the job's state column.
func (j *DBJob) UpdateState(job *duotrain.TrainingJob) {
	state := string(duotrain.JsonMarshal(job))
	j.State = state
	db.Exec("UPDATE jobs SET state = ? WHERE id = ?", state, j.ID)
}

func (j *DBJob) SetDone(error string) {
	j.Done = true
	j.Error = error
	db.Exec("UPDATE jobs SET done = 1, error = ? WHERE id = ?", error, j.ID)
}

func init() {
	Router.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		duotrain.JsonResponse(w, ListJobs())
	}).Methods("GET")

	Router.HandleFunc("/jobs/{job_id}", func(w http.ResponseWriter, r *http.Request) {
		jobID := duotrain.ParseInt(mux.Vars(r)["job_id"])
		job := GetJob(jobID)
		if job == nil {
			http.Error(w, "no such job", 404)
			return
		}
		duotrain.JsonResponse(w, job)
	}).Methods("GET")
}
