//go:build unix

package process

// Client locations installed by the distribution packages.
const (
	ClientBinary         = "/usr/libexec/spice-xpi-client"
	FallbackClientBinary = "/usr/bin/spicec"
)

type systemResolver struct{}

// SystemResolver returns the platform's default client locations.
func SystemResolver() Resolver { return systemResolver{} }

func (systemResolver) ClientPath() []string {
	return []string{ClientBinary}
}

func (systemResolver) FallbackClientPath() []string {
	return []string{FallbackClientBinary, "--controller"}
}
