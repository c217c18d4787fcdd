// Package ipc implements the controller wire protocol spoken to the remote
// client over the private endpoint.
//
// Every message starts with a fixed header {id uint32, size uint32} in host
// byte order, where size is the byte length of the whole message including
// the header. The stream has no other delimiter. The first message of a
// session is Init, whose header is {magic, version, size} instead.
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Wire size constants.
const (
	// HeaderSize is the size of the common {id, size} header.
	HeaderSize = 8
	// InitSize is the full size of the Init message.
	InitSize = 20
	// ValueSize is the full size of a Value or Bool message.
	ValueSize = HeaderSize + 4
	// MaxMessageSize bounds a single message on the stream.
	MaxMessageSize = 64 * 1024
)

// Version is the controller protocol version announced in Init.
const Version uint32 = 1

// InitFlagExclusive asks the client to refuse other controllers.
const InitFlagExclusive uint32 = 1 << 0

// FULL_SCREEN value bits.
const (
	FullScreenSet            uint32 = 1 << 0
	FullScreenAutoDisplayRes uint32 = 1 << 1
)

// byteOrder is the host byte order; the receiver is always on the same host.
var byteOrder = binary.NativeEndian

// Magic is "CTRL" read as a host-order uint32.
var Magic = byteOrder.Uint32([]byte("CTRL"))

// MessageID identifies a controller message.
type MessageID uint32

// Controller -> client message ids.
const (
	MsgHost MessageID = iota + 1
	MsgPort
	MsgSecurePort
	MsgPassword
	MsgSecureChannels
	MsgDisableChannels
	MsgTLSCiphers
	MsgCAFile
	MsgHostSubject
	MsgFullScreen
	MsgSetTitle
	MsgCreateMenu
	MsgDeleteMenu
	MsgHotKeys
	MsgSendCtrlAltDel
	MsgConnect
	MsgShow
	MsgHide
	MsgEnableSmartcard
	MsgColorDepth
	MsgDisableEffects
	MsgEnableUSB
	MsgEnableUSBAutoShare
	MsgUSBFilter
	MsgProxy
)

// MsgMenuItemClick is sent by the client back to the controller.
const MsgMenuItemClick MessageID = 1001

var messageNames = map[MessageID]string{
	MsgHost:               "HOST",
	MsgPort:               "PORT",
	MsgSecurePort:         "SPORT",
	MsgPassword:           "PASSWORD",
	MsgSecureChannels:     "SECURE_CHANNELS",
	MsgDisableChannels:    "DISABLE_CHANNELS",
	MsgTLSCiphers:         "TLS_CIPHERS",
	MsgCAFile:             "CA_FILE",
	MsgHostSubject:        "HOST_SUBJECT",
	MsgFullScreen:         "FULL_SCREEN",
	MsgSetTitle:           "SET_TITLE",
	MsgCreateMenu:         "CREATE_MENU",
	MsgDeleteMenu:         "DELETE_MENU",
	MsgHotKeys:            "HOTKEYS",
	MsgSendCtrlAltDel:     "SEND_CAD",
	MsgConnect:            "CONNECT",
	MsgShow:               "SHOW",
	MsgHide:               "HIDE",
	MsgEnableSmartcard:    "ENABLE_SMARTCARD",
	MsgColorDepth:         "COLOR_DEPTH",
	MsgDisableEffects:     "DISABLE_EFFECTS",
	MsgEnableUSB:          "ENABLE_USB",
	MsgEnableUSBAutoShare: "ENABLE_USB_AUTOSHARE",
	MsgUSBFilter:          "USB_FILTER",
	MsgProxy:              "PROXY",
	MsgMenuItemClick:      "MENU_ITEM_CLICK",
}

func (id MessageID) String() string {
	if name, ok := messageNames[id]; ok {
		return name
	}
	return fmt.Sprintf("MSG(%d)", uint32(id))
}

// Kind is the payload shape of a message.
type Kind int

const (
	KindInit Kind = iota
	KindValue
	KindBool
	KindStr
	KindCommand
)

func (k Kind) String() string {
	switch k {
	case KindInit:
		return "init"
	case KindValue:
		return "value"
	case KindBool:
		return "bool"
	case KindStr:
		return "str"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// messageKinds is the payload shape the receiver expects per id.
// Value and Bool share framing; Str and Value can share a size, so the
// decoder needs this table to tell them apart.
var messageKinds = map[MessageID]Kind{
	MsgHost:               KindStr,
	MsgPort:               KindValue,
	MsgSecurePort:         KindValue,
	MsgPassword:           KindStr,
	MsgSecureChannels:     KindStr,
	MsgDisableChannels:    KindStr,
	MsgTLSCiphers:         KindStr,
	MsgCAFile:             KindStr,
	MsgHostSubject:        KindStr,
	MsgFullScreen:         KindValue,
	MsgSetTitle:           KindStr,
	MsgCreateMenu:         KindStr,
	MsgDeleteMenu:         KindCommand,
	MsgHotKeys:            KindStr,
	MsgSendCtrlAltDel:     KindBool,
	MsgConnect:            KindCommand,
	MsgShow:               KindCommand,
	MsgHide:               KindCommand,
	MsgEnableSmartcard:    KindBool,
	MsgColorDepth:         KindValue,
	MsgDisableEffects:     KindStr,
	MsgEnableUSB:          KindBool,
	MsgEnableUSBAutoShare: KindBool,
	MsgUSBFilter:          KindStr,
	MsgProxy:              KindStr,
	MsgMenuItemClick:      KindValue,
}

// KindOf returns the registered payload shape for id.
func KindOf(id MessageID) (Kind, bool) {
	k, ok := messageKinds[id]
	return k, ok
}

// Init is the payload of the session-opening message.
type Init struct {
	Magic             uint32
	Version           uint32
	CapabilityVersion uint32
	Flags             uint32
}

// Message is one controller message. Which fields are meaningful depends
// on Kind: Init for KindInit, Value for KindValue and KindBool, Str for
// KindStr; KindCommand carries only the ID.
type Message struct {
	Kind  Kind
	ID    MessageID
	Value uint32
	Str   string
	Init  Init
}

// ErrEmbeddedNUL is returned when a string payload contains a NUL byte,
// which would truncate it on the receiving side.
var ErrEmbeddedNUL = errors.New("string payload contains NUL byte")

// ErrKindMismatch is returned when a message's payload shape differs from
// the shape registered for its id. The receiver decodes by id, so such a
// message would be misread.
var ErrKindMismatch = errors.New("message kind does not match id")

// NewInit builds the Init message.
func NewInit(flags uint32) Message {
	return Message{
		Kind: KindInit,
		Init: Init{
			Magic:   Magic,
			Version: Version,
			Flags:   flags,
		},
	}
}

// NewValue builds a Value message.
func NewValue(id MessageID, value uint32) Message {
	return Message{Kind: KindValue, ID: id, Value: value}
}

// NewBool builds a Bool message; it travels as a 0/1 Value.
func NewBool(id MessageID, value bool) Message {
	m := Message{Kind: KindBool, ID: id}
	if value {
		m.Value = 1
	}
	return m
}

// NewStr builds a Str message.
func NewStr(id MessageID, s string) Message {
	return Message{Kind: KindStr, ID: id, Str: s}
}

// NewCommand builds a header-only message.
func NewCommand(id MessageID) Message {
	return Message{Kind: KindCommand, ID: id}
}

// Size returns the encoded length of m, which is also its header size field.
func (m Message) Size() uint32 {
	switch m.Kind {
	case KindInit:
		return InitSize
	case KindValue, KindBool:
		return ValueSize
	case KindStr:
		return uint32(HeaderSize + len(m.Str) + 1)
	default:
		return HeaderSize
	}
}

// MarshalBinary encodes m in wire form.
func (m Message) MarshalBinary() ([]byte, error) {
	if m.Kind != KindInit {
		if want, ok := KindOf(m.ID); ok && want != m.Kind {
			return nil, fmt.Errorf("%w: %s carries %s, got %s", ErrKindMismatch, m.ID, want, m.Kind)
		}
	}
	if m.Kind == KindStr {
		if strings.IndexByte(m.Str, 0) >= 0 {
			return nil, ErrEmbeddedNUL
		}
		if HeaderSize+len(m.Str)+1 > MaxMessageSize {
			return nil, fmt.Errorf("string payload of %d bytes exceeds maximum message size %d", len(m.Str), MaxMessageSize)
		}
	}

	size := m.Size()
	buf := make([]byte, 0, size)

	switch m.Kind {
	case KindInit:
		buf = byteOrder.AppendUint32(buf, m.Init.Magic)
		buf = byteOrder.AppendUint32(buf, m.Init.Version)
		buf = byteOrder.AppendUint32(buf, size)
		buf = byteOrder.AppendUint32(buf, m.Init.CapabilityVersion)
		buf = byteOrder.AppendUint32(buf, m.Init.Flags)
	case KindValue, KindBool:
		buf = appendHeader(buf, m.ID, size)
		buf = byteOrder.AppendUint32(buf, m.Value)
	case KindStr:
		buf = appendHeader(buf, m.ID, size)
		buf = append(buf, m.Str...)
		buf = append(buf, 0)
	case KindCommand:
		buf = appendHeader(buf, m.ID, size)
	default:
		return nil, fmt.Errorf("unknown message kind %d", int(m.Kind))
	}

	return buf, nil
}

func appendHeader(buf []byte, id MessageID, size uint32) []byte {
	buf = byteOrder.AppendUint32(buf, uint32(id))
	return byteOrder.AppendUint32(buf, size)
}

// String renders m for logs and the decode command. Str payloads of
// MsgPassword are masked.
func (m Message) String() string {
	switch m.Kind {
	case KindInit:
		return fmt.Sprintf("INIT(version=%d, flags=%#x)", m.Init.Version, m.Init.Flags)
	case KindValue:
		return fmt.Sprintf("%s=%d", m.ID, m.Value)
	case KindBool:
		return fmt.Sprintf("%s=%t", m.ID, m.Value != 0)
	case KindStr:
		if m.ID == MsgPassword {
			return fmt.Sprintf("%s=%q", m.ID, "***")
		}
		return fmt.Sprintf("%s=%q", m.ID, m.Str)
	default:
		return m.ID.String()
	}
}
