package actions

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/danmont/starpipe/helper"
	"github.com/danmont/starpipe/logger"
	"github.com/go-co-op/gocron"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/net/context"
)

type WebServerConfig struct {
	LogLevel         string `errorTxt:"log level" mandatory:"yes"`
	Scheme           string `errorTxt:"scheme" mandatory:"no"`
	Addr             net.IP `errorTxt:"address" mandatory:"no"`
	Port             int    `errorTxt:"port" mandatory:"no"`
	ScheduleSeconds  int
	StackDumpOnPanic bool
	Factory          PipelineFactory
}

// RunWebServer serves the load service over HTTP and blocks until stopped.
// When ScheduleSeconds is set, loads also fire on that interval; scheduled and
// HTTP-triggered loads share the same single-load-at-a-time service.
func RunWebServer(web *WebServerConfig) error {
	if web == nil {
		return errors.New("nil pointer to web server config supplied")
	}
	log := logger.NewLogger("starpipe", web.LogLevel, web.StackDumpOnPanic)
	err := helper.ValidateStructIsPopulated(web)
	if err != nil {
		return err
	}
	if web.Factory == nil {
		return errors.New("no pipeline factory supplied to web server")
	}
	svc := NewLoadService(log, web.Factory)
	srv, chanStopServer := runServer(log, web, svc)
	scheduler := runScheduler(log, web, svc)
	return waitForServer(log, srv, chanStopServer, scheduler)
}

// runServer starts a web server and returns:
// 1) the server; and
// 2) a channel that can be used to stop the web server
func runServer(log logger.Logger, web *WebServerConfig, svc *LoadService) (*http.Server, chan string) {
	chanStopServer := make(chan string, 1)
	// Create routes.
	r := mux.NewRouter()
	r.HandleFunc("/stop", GetHandlerStopServer(log, chanStopServer))
	r.Path("/health").HandlerFunc(GetHandlerHealth(log))
	r.Path("/loads").Methods(http.MethodGet).HandlerFunc(svc.GetHandlerLoadList(log))
	r.Path("/loads").Methods(http.MethodPost).HandlerFunc(svc.GetHandlerLoadTrigger(log))
	r.Path("/loads/latest").HandlerFunc(svc.GetHandlerLoadSummary(log))
	r.Path("/loads/stats").HandlerFunc(svc.GetHandlerLoadStats(log))
	// Configure HTTP server.
	srv := &http.Server{ // Good practice to set timeouts to avoid Slowloris attacks.
		Addr:         fmt.Sprintf("%v:%v", web.Addr, web.Port),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r, // supply our instance of gorilla/mux.
	}
	// Run HTTP server non-blocking.
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			if err == http.ErrServerClosed {
				log.Info(err)
			} else {
				log.Panic(err)
			}
		}
	}()
	log.Info(fmt.Sprintf("Listening on %v://%v:%v", strings.ToLower(web.Scheme), web.Addr, web.Port))
	return srv, chanStopServer
}

// runScheduler starts periodic loads when a schedule interval is configured.
// A tick that lands while the previous load is still running is skipped.
func runScheduler(log logger.Logger, web *WebServerConfig, svc *LoadService) *gocron.Scheduler {
	if web.ScheduleSeconds <= 0 {
		return nil
	}
	scheduler := gocron.NewScheduler(time.UTC)
	_, err := scheduler.Every(time.Duration(web.ScheduleSeconds) * time.Second).Do(func() {
		batchId, err := svc.StartLoad(context.Background())
		if err == ErrLoadInProgress {
			log.Info("scheduled load skipped: previous load still running")
			return
		}
		if err != nil {
			log.Error("scheduled load failed to start: ", err)
			return
		}
		log.Info("scheduled load ", batchId, " started")
	})
	if err != nil {
		log.Panic(err)
	}
	scheduler.StartAsync()
	log.Info(fmt.Sprintf("Scheduled loads every %v seconds", web.ScheduleSeconds))
	return scheduler
}

func waitForServer(log logger.Logger, srv *http.Server, chanStopServer chan string, scheduler *gocron.Scheduler) error {
	// Block & wait for shutdown signals.
	// Accept graceful shutdowns when quit via SIGINT (Ctrl+C)
	// SIGKILL, SIGQUIT or SIGTERM (Ctrl+\) will not be caught.
	chanOS := make(chan os.Signal, 1)
	signal.Notify(chanOS, os.Interrupt)
	select {
	case <-chanStopServer:
	case <-chanOS:
	}
	fmt.Println() // print new line char for clean looking CLI.
	log.Info("Shutting down web server...")
	if scheduler != nil {
		scheduler.Stop()
	}
	// Shutdown web server now.
	wait := time.Second * 15
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	return srv.Shutdown(ctx)
}
