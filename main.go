package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/CodedInternet/gopneumatic/comms"
	"github.com/CodedInternet/gopneumatic/rig"
	"github.com/CodedInternet/gopneumatic/rig/hardware"
	"github.com/CodedInternet/gopneumatic/rig/record"
	"github.com/asdine/storm/v3"
	"github.com/caarlos0/env/v6"
	"github.com/edaniels/golog"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"go.uber.org/zap"
)

type EnvConfig struct {
	JWT_ISSUER string `env:"SOFTROBOT_RIG_ID" envDefault:"DEV"`
	JWT_SECRET string `env:"SOFTROBOT_JWT_SECRET"`
	DEBUG      bool   `env:"DEBUG" envDefault:"0"`
	SRCDIR     string `env:"SRCDIR" envDefault:"."`
	CONFIG     string `env:"SOFTROBOT_CONFIG" envDefault:"experiment.yaml"`
	DBFILE     string `env:"SOFTROBOT_DB"`
	DATADIR    string
	DB         *storm.DB
	Index      *record.Index
	Session    *rig.Session
	Conductor  *comms.Conductor
	Simulated  bool
}

var (
	ENV *EnvConfig
)

func init() {
	// Load main config
	ENV = new(EnvConfig)
	env.Parse(ENV)
	JWT_HMAC_SECRET = jwtSecret(ENV.JWT_SECRET)
}

func main() {
	// process flags
	configFile := flag.String("config", filepath.Join(ENV.SRCDIR, ENV.CONFIG), "Experiment config file")
	simulated := flag.Bool("sim", false, "Run against simulated actuators")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port for the API to listen on, empty to disable")
	name := flag.String("name", "", "Experiment name, default is auto numbered in today's folder")
	description := flag.String("describe", "", "Experiment description, asked for at the end if empty")
	withShell := flag.Bool("shell", false, "Start the operator shell")
	progress := flag.Bool("progress", false, "Show a progress bar")
	flag.Parse()

	logger := golog.NewDevelopmentLogger("softrobot")
	if !ENV.DEBUG {
		logger = logger.Desugar().WithOptions(zap.IncreaseLevel(zap.InfoLevel)).Sugar()
	}

	cfg, err := rig.LoadConfig(*configFile)
	if err != nil {
		logger.Fatalw("configuration fault", "error", err)
	}
	if *name != "" {
		cfg.Experiment = *name
	}
	if *description != "" {
		cfg.Description = *description
	}
	cfg.Progress = cfg.Progress || *progress
	ENV.DATADIR = cfg.Storage.Dir
	ENV.Simulated = *simulated

	// setup database
	dbFile := ENV.DBFILE
	if dbFile == "" {
		dbFile = cfg.Storage.Index
	}
	ENV.DB, err = openDb(dbFile)
	if err != nil {
		logger.Fatalw("unable to open database", "path", dbFile, "error", err)
	}
	defer ENV.DB.Close() // close database when finished

	ENV.Index, err = record.NewIndex(ENV.DB)
	if err != nil {
		logger.Fatalw("unable to open experiment index", "error", err)
	}

	session, err := rig.NewSession(cfg, logger.Named("session"))
	if err != nil {
		logger.Fatalw("configuration fault", "error", err)
	}
	session.Index = ENV.Index
	if !*withShell {
		session.Describe = promptDescription
	}
	ENV.Session = session

	// SIGINT and SIGTERM end the trial; the rampdown always runs
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		logger.Warn("interrupt, stopping trial")
	}()

	// simulated actuators outlive ctx so they keep answering during the rampdown
	simCtx, stopSims := context.WithCancel(context.Background())
	defer stopSims()
	sims := new(sync.WaitGroup)
	if ENV.Simulated {
		_, sims, err = hardware.Simulate(simCtx, hardware.FleetConfig{
			Host:     cfg.Host,
			Ports:    cfg.Ports,
			Channels: cfg.Channels,
			Format:   cfg.FrameFormat(),
			Logger:   logger.Named("simulator"),
		})
		if err != nil {
			logger.Fatalw("unable to start simulated actuators", "error", err)
		}
	}

	serveCtx, stopServing := context.WithCancel(context.Background())
	ENV.Conductor = comms.NewConductor(session, logger.Named("comms"))
	go ENV.Conductor.UpdateClients(serveCtx, comms.UPDATE_INTERVAL)

	var server *http.Server
	if *port != "" {
		// A good base middleware stack
		stack := []func(http.Handler) http.Handler{middleware.RequestID, middleware.RealIP}
		if ENV.DEBUG {
			stack = append(stack, middleware.Logger)
		}
		stack = append(stack, middleware.RedirectSlashes, middleware.Recoverer) // make sure this is last
		r := Router(stack...)

		server = &http.Server{Addr: *port, Handler: r}
		go func() {
			logger.Infow("api listening", "address", *port)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorw("api stopped", "error", err)
			}
		}()
	}

	shellDone := make(chan struct{})
	if *withShell {
		shell := newShell(session, ENV.Index)
		go func() {
			shell.Run()
			close(shellDone)
		}()
	}

	if err = session.Initialize(ctx); err != nil {
		logger.Fatalw("unable to bring up actuators", "error", err)
	}

	m, err := session.Run(ctx)
	if err != nil {
		logger.Errorw("experiment did not save cleanly", "error", err)
	} else {
		fmt.Printf("Saved %s (%d samples) to %s\n", m.Name, m.SampleCount, m.Path)
	}

	stopSims()
	sims.Wait()

	if *withShell {
		fmt.Println("Trial complete, exit the shell to quit")
		select {
		case <-shellDone:
		case <-ctx.Done():
		}
	}

	stopServing()
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		server.Shutdown(shutdownCtx)
	}
}

// promptDescription asks on the terminal once the actuators are safe.
func promptDescription() string {
	fmt.Print("Experiment description: ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	return strings.TrimSpace(line)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func openDb(dbFile string) (db *storm.DB, err error) {
	if err = os.MkdirAll(filepath.Dir(dbFile), 0755); err != nil {
		return
	}
	db, err = storm.Open(dbFile)
	if err != nil {
		return
	}

	// call inits for each type
	if err := db.Init(&Operator{}); err != nil {
		return nil, err
	}

	return
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
