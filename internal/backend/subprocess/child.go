package subprocess

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/procjoin/internal/work"
)

// EnvChildUnit carries the encoded unit from launcher to child. Its presence
// is what puts a binary into child mode.
const EnvChildUnit = "PROCJOIN_CHILD_UNIT"

// RunChildIfRequested runs the encoded unit and exits when the process was
// started by this backend. Otherwise it returns immediately. Call it first
// thing in main, and in TestMain of any package that starts children.
func RunChildIfRequested() {
	encoded, ok := os.LookupEnv(EnvChildUnit)
	if !ok {
		return
	}
	os.Exit(runChild(encoded))
}

func runChild(encoded string) int {
	u, err := work.Decode(encoded)
	if err != nil {
		fmt.Fprintf(os.Stderr, "procjoin child: %v\n", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if _, err := u.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "procjoin child: unit %s: %v\n", u.Name, err)
		return 1
	}
	return 0
}
