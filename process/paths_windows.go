//go:build windows

package process

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// Registry location of the user-configured client command line.
const (
	clientRegistryKey   = `Software\spice-space.org\spicex`
	clientRegistryValue = "client"
)

// FallbackClientBinary is expected next to the controller executable.
const FallbackClientBinary = "spicec.exe"

type systemResolver struct{}

// SystemResolver returns the platform's default client locations.
func SystemResolver() Resolver { return systemResolver{} }

// ClientPath reads HKCU\Software\spice-space.org\spicex\client and splits
// it into an argument vector.
func (systemResolver) ClientPath() []string {
	key, err := registry.OpenKey(registry.CURRENT_USER, clientRegistryKey, registry.QUERY_VALUE)
	if err != nil {
		return nil
	}
	defer key.Close()

	cmdline, valType, err := key.GetStringValue(clientRegistryValue)
	if err != nil || cmdline == "" {
		return nil
	}
	if valType == registry.EXPAND_SZ {
		if expanded, err := registry.ExpandString(cmdline); err == nil {
			cmdline = expanded
		}
	}

	argv, err := windows.DecomposeCommandLine(cmdline)
	if err != nil || len(argv) == 0 {
		return nil
	}
	return argv
}

func (systemResolver) FallbackClientPath() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(filepath.Dir(exe), FallbackClientBinary), "--controller"}
}
