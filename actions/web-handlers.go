package actions

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/danmont/starpipe/logger"
	"github.com/danmont/starpipe/stats"
	"golang.org/x/net/context"
)

type WebServerResponse uint32

const (
	Okay WebServerResponse = iota + 1
	Error
)

func (w WebServerResponse) MarshalJSON() ([]byte, error) {
	var retval string
	switch w {
	case Okay:
		retval = "ok"
	case Error:
		retval = "error"
	default:
		err := fmt.Errorf("unhandled WebServerResponse value in MarshalJSON() conversion")
		return nil, err
	}
	return json.Marshal(retval)
}

type ResponseSimple struct {
	ServerStatus WebServerResponse `json:"status"`
}

type ResponseLoadTrigger struct {
	Status  WebServerResponse `json:"status"`
	Message string            `json:"message"`
	BatchId string            `json:"batchId,omitempty"`
}

type ResponseLoadList struct {
	Status WebServerResponse `json:"status"`
	Loads  []RunRecord       `json:"loads"`
}

type ResponseLoadStats struct {
	Status    WebServerResponse `json:"status"`
	Message   string            `json:"message"`
	StepStats []stats.Stats     `json:"stepStats,omitempty"`
}

type ResponseLoadSummary struct {
	Status  WebServerResponse `json:"status"`
	Message string            `json:"message"`
	Load    *RunRecord        `json:"load,omitempty"`
}

func GetHandlerHealth(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

func GetHandlerStopServer(log logger.Logger, chanStop chan string) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		chanStop <- "stop"
		log.Info("Stop signal sent")
		respond(log, w, ResponseSimple{ServerStatus: Okay})
	}
}

// GetHandlerLoadTrigger starts a load in the background and returns its batch id.
// A second trigger while a load is running gets a conflict response rather than
// a concurrent run.
func (s *LoadService) GetHandlerLoadTrigger(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		batchId, err := s.StartLoad(context.Background())
		if err == ErrLoadInProgress {
			w.WriteHeader(http.StatusConflict)
			respond(log, w, ResponseLoadTrigger{Status: Error, Message: err.Error()})
			return
		}
		if err != nil {
			logAndRespond(log, err, w,
				ResponseLoadTrigger{Status: Error, Message: fmt.Sprintf("error starting load: %v", err)})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadTrigger{Status: Okay, Message: "load started", BatchId: batchId})
	}
}

func (s *LoadService) GetHandlerLoadList(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadList{Status: Okay, Loads: s.History()})
	}
}

// GetHandlerLoadStats reports live per-step stats for the load in flight.
func (s *LoadService) GetHandlerLoadStats(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		ss := s.StepStats()
		if ss == nil {
			w.WriteHeader(http.StatusOK)
			respond(log, w, ResponseLoadStats{Status: Okay, Message: "no load in progress"})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadStats{Status: Okay, Message: "load in progress", StepStats: ss})
	}
}

// GetHandlerLoadSummary reports the most recently completed run.
func (s *LoadService) GetHandlerLoadSummary(log logger.Logger) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := s.LastRun()
		if !ok {
			w.WriteHeader(http.StatusOK)
			respond(log, w, ResponseLoadSummary{Status: Okay, Message: "no completed loads yet"})
			return
		}
		w.WriteHeader(http.StatusOK)
		respond(log, w, ResponseLoadSummary{Status: Okay, Message: "latest completed load", Load: &rec})
	}
}

// logAndRespond will log the error, write a http.StatusBadRequest and i to w.
func logAndRespond(log logger.Logger, err error, w http.ResponseWriter, i interface{}) {
	log.Error(err)
	w.WriteHeader(http.StatusBadRequest)
	respond(log, w, i)
}

// respond will marshal i to a string and write it to w.
func respond(log logger.Logger, w http.ResponseWriter, i interface{}) {
	j, err := json.MarshalIndent(i, "", "  ")
	if err != nil {
		log.Panic(err)
	}
	_, err = fmt.Fprint(w, string(j))
	if err != nil {
		log.Panic(err)
	}
}
