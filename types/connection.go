package types

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoUsablePort is returned when neither the plain nor the secure port is usable.
var ErrNoUsablePort = errors.New("no usable port: port and secure port are both unset or invalid")

// ConnectionParams are the start parameters streamed to the remote client.
// Ports are kept as strings because embedders hand them over unparsed;
// see ParsePort.
type ConnectionParams struct {
	Host           string `json:"host" yaml:"host"`
	Port           string `json:"port,omitempty" yaml:"port"`
	SecurePort     string `json:"secure_port,omitempty" yaml:"secure_port"`
	Password       string `json:"-" yaml:"password"`
	TLSCiphers     string `json:"tls_ciphers,omitempty" yaml:"tls_ciphers"`
	SecureChannels string `json:"secure_channels,omitempty" yaml:"secure_channels"`
	CAFile         string `json:"ca_file,omitempty" yaml:"ca_file"`
	HostSubject    string `json:"host_subject,omitempty" yaml:"host_subject"`
	Title          string `json:"title,omitempty" yaml:"title"`
	HotKeys        string `json:"hotkeys,omitempty" yaml:"hotkeys"`
	USBFilter      string `json:"usb_filter,omitempty" yaml:"usb_filter"`
	DisableEffects string `json:"disable_effects,omitempty" yaml:"disable_effects"`
	ColorDepth     int    `json:"color_depth,omitempty" yaml:"color_depth"`

	FullScreen     bool `json:"fullscreen" yaml:"fullscreen"`
	AdminConsole   bool `json:"admin_console" yaml:"admin_console"`
	Smartcard      bool `json:"smartcard" yaml:"smartcard"`
	SendCtrlAltDel bool `json:"send_ctrlaltdel" yaml:"send_ctrlaltdel"`
	USBAutoShare   bool `json:"usb_autoshare" yaml:"usb_autoshare"`
}

// ParsePort converts a decimal port string.
// Returns 0 for an empty string and -1 for anything that is not an
// integer in [0, 65535].
func ParsePort(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 65535 {
		return -1
	}
	return n
}

// Ports returns the parsed plain and secure ports.
func (p *ConnectionParams) Ports() (port, securePort int) {
	return ParsePort(p.Port), ParsePort(p.SecurePort)
}

// Validate reports ErrNoUsablePort when no port is usable.
// A single invalid port is tolerated as long as the other one is usable.
func (p *ConnectionParams) Validate() error {
	port, sport := p.Ports()
	if port <= 0 && sport <= 0 {
		return ErrNoUsablePort
	}
	return nil
}

// legacySecureChannels are channel names that older deployments spell with
// a leading "s" (smain, sinputs, ...).
var legacySecureChannels = []string{
	"smain", "sdisplay", "sinputs",
	"scursor", "splayback", "srecord",
	"susbredir", "ssmartcard", "stunnel",
}

// NormalizeSecureChannels strips the legacy leading "s" from channel names.
func NormalizeSecureChannels(channels string) string {
	for _, name := range legacySecureChannels {
		channels = strings.ReplaceAll(channels, name, name[1:])
	}
	return channels
}
