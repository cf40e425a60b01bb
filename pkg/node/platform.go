package node

import (
	"os"
	"runtime"
	"strconv"

	"github.com/denisbrodbeck/machineid"
)

// LoadPlatform collects the properties describing the machine this
// node runs on. Reported to the coordinator when enlisting.
func LoadPlatform() map[string]string {
	platform := map[string]string{
		"node.os":   runtime.GOOS,
		"node.arch": runtime.GOARCH,
		"node.cpus": strconv.Itoa(runtime.NumCPU()),
	}

	if hostname, err := os.Hostname(); err == nil {
		platform["node.hostname"] = hostname
	}

	if id, err := machineid.ProtectedID("drover"); err == nil {
		platform["node.id"] = id
	}

	return platform
}
