package main

import (
	"github.com/duotrain/duotrain/app"
	"github.com/duotrain/duotrain/duotrain"

	socketio "github.com/googollee/go-socket.io"

	"flag"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
)

func main() {
	addr := flag.String("addr", ":8080", "bind address")
	coordinatorURL := flag.String("url", "http://127.0.0.1:PORT", "coordinator URL")
	workerURL := flag.String("worker", "", "standalone worker URL (empty: run the background context in-process)")
	dbPath := flag.String("db", "duotrain.sqlite3", "database path")
	flag.Parse()

	tcpAddr, err := net.ResolveTCPAddr("tcp", *addr)
	if err != nil {
		panic(err)
	}

	app.Config.CoordinatorURL = strings.ReplaceAll(*coordinatorURL, "PORT", strconv.Itoa(tcpAddr.Port))
	app.Config.WorkerURL = *workerURL
	app.Config.DBPath = *dbPath

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	duotrain.SeedRand()

	app.InitDB(*dbPath)

	server, err := socketio.NewServer(nil)
	if err != nil {
		panic(err)
	}
	for _, f := range app.SetupFuncs {
		f(server)
	}

	go server.Serve()
	defer server.Close()
	http.Handle("/socket.io/", server)
	http.Handle("/", app.Router)
	log.Printf("starting on %s", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		panic(err)
	}
}
