package utils

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/drover-io/drover/pkg/log"
)

func init() {
	ch := make(chan os.Signal, 10)
	signal.Notify(ch, syscall.SIGUSR1)

	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGUSR1:
				buf := make([]byte, 1<<16)
				len := runtime.Stack(buf, true)
				fmt.Printf("%s\n", buf[:len])
			}
		}
	}()
}

// TerminateOnSignal invokes the callback once when SIGINT or
// SIGTERM is received. A repeated signal terminates immediately.
func TerminateOnSignal(cancel func()) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-ch
		log.Info("Terminating")
		cancel()
		<-ch
		os.Exit(1)
	}()
}
