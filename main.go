package main

import (
	"context"
	"kbmigrate/logger"
	"kbmigrate/server"
	"kbmigrate/utils"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
)

type OptsDesc struct {
	prmsCnt int
	handler func(p []string) error
}

func init() {
	appConfig := utils.GetConfig()

	logger.SetOut(os.Stdout)
	if err := logger.SetLevel(appConfig.LogLevel); err != nil {
		log.Printf("Wrong LOG_LEVEL '%s', using 'info'.\n", appConfig.LogLevel)
		logger.SetLevel("info")
	}
	log.Printf("The logger is initialized: level: '%s', output: '%s'.\n", appConfig.LogLevel, "stdout")

	if len(appConfig.SentryDsn) > 0 {
		if err := sentry.Init(sentry.ClientOptions{Dsn: appConfig.SentryDsn}); err != nil {
			log.Printf("Sentry is not initialized: %s\n", err.Error())
		}
	}
}

//Main function runs the migration server. The following options are avaliable:
// -a - address to use. Default value is empty.
// -p - port to use. Default value is 8000.
// -r - path root to use. Default value is URL_PREFIX or "/kb-migration".
func main() {
	appConfig := utils.GetConfig()
	var srv = server.New("", "8000", appConfig.UrlPrefix)

	var opts = map[string]OptsDesc{
		"-a": {1, func(p []string) error {
			srv.SetAddr(p[0])
			return nil
		}},
		"-p": {1, func(p []string) error {
			srv.SetPort(p[0])
			return nil
		}},
		"-r": {1, func(p []string) error {
			srv.SetRoot(p[0])
			return nil
		}},
	}

	args := os.Args[1:]
	for len(args) > 0 {
		if v, e := opts[args[0]]; e && len(args)-1 >= v.prmsCnt {
			if err := v.handler(args[1 : v.prmsCnt+1]); err != nil {
				log.Fatalln(err)
			}
			args = args[1+v.prmsCnt:]
		} else {
			log.Fatalf("Wrong argument '%s'", args[0])
		}
	}

	defer sentry.Flush(2 * time.Second)
	httpServer := srv.Setup(appConfig)

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		<-signals
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Shutdown failed: %s", err.Error())
		}
	}()

	log.Println("Knowledge base migration server started.")
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("Server stopped: %s", err.Error())
		return
	}
	<-stopped
}
