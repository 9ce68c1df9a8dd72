package model

//
// Parse data channel options.
//
// The configuration format follows the one used by OpenVPN,
// restricted to the directives that shape the data channel: the cipher and
// auth algorithms, the compression framing, the peer-id and the size of the
// replay window. Any other directive is ignored with a warning, so that a full
// client configuration file can be passed as is.
//

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/apex/log"
	"github.com/ooni/ovpndata/internal/optional"
)

type (
	// Compression describes a Compression type (e.g., stub).
	Compression string
)

const (
	// CompressionNone means that no compression directive was given. The
	// payload is sent without any framing marker.
	CompressionNone = Compression("")

	// CompressionEmpty is the "compress" directive without arguments, which
	// behaves like the stub.
	CompressionEmpty = Compression("empty")

	// CompressionStub adds the (empty) compression stub to the packets.
	CompressionStub = Compression("stub")

	// CompressionStubV2 adds the v2 compression stub to the packets.
	CompressionStubV2 = Compression("stub-v2")

	// CompressionLZO is "compress lzo".
	CompressionLZO = Compression("lzo")

	// CompressionLZ4 is "compress lz4".
	CompressionLZ4 = Compression("lz4")

	// CompressionLZ4V2 is "compress lz4-v2".
	CompressionLZ4V2 = Compression("lz4-v2")

	// CompressionLZONo is lzo-no (another type of no-compression, older).
	CompressionLZONo = Compression("lzo-no")

	// CompressionLZOYes is the legacy "comp-lzo" or "comp-lzo yes".
	CompressionLZOYes = Compression("lzo-yes")
)

// DefaultReplayWindow is the replay window size used when none is configured.
const DefaultReplayWindow = 64

// MaxReplayWindow is the largest supported replay window size.
const MaxReplayWindow = 8128

// DefaultAuth is the digest used when none is configured.
const DefaultAuth = "SHA1"

// ErrBadConfig is the generic error returned for invalid config files
var ErrBadConfig = errors.New("openvpn: bad config")

// SupportedCiphers defines the supported ciphers.
var SupportedCiphers = []string{
	"AES-128-CBC",
	"AES-192-CBC",
	"AES-256-CBC",
	"AES-128-GCM",
	"AES-192-GCM",
	"AES-256-GCM",
	"CHACHA20-POLY1305",
}

// SupportedAuth defines the supported authentication methods.
var SupportedAuth = []string{
	"SHA1",
	"SHA256",
	"SHA512",
}

// DataChannelOptions contains the negotiated parameters of the data channel.
type DataChannelOptions struct {
	// Cipher is the data channel cipher (e.g., AES-256-GCM).
	Cipher string

	// Auth is the HMAC digest (e.g., SHA256). It's ignored by AEAD ciphers.
	Auth string

	// Compress is the compression framing and algorithm.
	Compress Compression

	// PeerID is the peer-id assigned by the server. When set we emit
	// P_DATA_V2 packets, otherwise P_DATA_V1.
	PeerID optional.Value[PeerID]

	// ReplayWindow is the size of the anti-replay window.
	ReplayWindow int
}

// NewDataChannelOptions returns options with the default auth and replay window.
func NewDataChannelOptions(cipher string) *DataChannelOptions {
	return &DataChannelOptions{
		Cipher:       cipher,
		Auth:         DefaultAuth,
		Compress:     CompressionNone,
		PeerID:       optional.None[PeerID](),
		ReplayWindow: DefaultReplayWindow,
	}
}

// Validate returns an error if the options cannot configure a data channel.
func (o *DataChannelOptions) Validate() error {
	if !hasElement(strings.ToUpper(o.Cipher), SupportedCiphers) {
		return fmt.Errorf("%w: unsupported cipher: %q", ErrBadConfig, o.Cipher)
	}
	if !hasElement(strings.ToUpper(o.Auth), SupportedAuth) {
		return fmt.Errorf("%w: unsupported auth: %q", ErrBadConfig, o.Auth)
	}
	if o.ReplayWindow <= 0 || o.ReplayWindow > MaxReplayWindow {
		return fmt.Errorf("%w: replay-window must be in 1..%d", ErrBadConfig, MaxReplayWindow)
	}
	return nil
}

// ReadConfigFile expects a string with a path to a valid config file,
// and returns a pointer to a DataChannelOptions struct after parsing the
// file, and an error if the operation could not be completed.
func ReadConfigFile(filePath string) (*DataChannelOptions, error) {
	lines, err := getLinesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, err)
	}
	return getOptionsFromLines(lines)
}

// ParseDirectives parses configuration lines, as they would appear in a
// config file (e.g., "cipher AES-256-GCM" or "comp-lzo no").
func ParseDirectives(lines ...string) (*DataChannelOptions, error) {
	return getOptionsFromLines(lines)
}

func parseCipher(p []string, o *DataChannelOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "cipher expects one arg")
	}
	cipher := strings.ToUpper(p[0])
	if !hasElement(cipher, SupportedCiphers) {
		return fmt.Errorf("%w: unsupported cipher: %s", ErrBadConfig, cipher)
	}
	o.Cipher = cipher
	return nil
}

func parseAuth(p []string, o *DataChannelOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "invalid auth entry")
	}
	auth := strings.ToUpper(p[0])
	if !hasElement(auth, SupportedAuth) {
		return fmt.Errorf("%w: unsupported auth: %s", ErrBadConfig, auth)
	}
	o.Auth = auth
	return nil
}

func parseCompress(p []string, o *DataChannelOptions) error {
	if len(p) > 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "compress: expects at most one arg")
	}
	if len(p) == 0 {
		o.Compress = CompressionEmpty
		return nil
	}
	switch c := Compression(p[0]); c {
	case CompressionStub, CompressionStubV2, CompressionLZO, CompressionLZ4, CompressionLZ4V2:
		o.Compress = c
		return nil
	default:
		return fmt.Errorf("%w: compress: unsupported algorithm: %s", ErrBadConfig, p[0])
	}
}

func parseCompLZO(p []string, o *DataChannelOptions) error {
	if len(p) > 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "comp-lzo: expects at most one arg")
	}
	if len(p) == 0 {
		o.Compress = CompressionLZOYes
		return nil
	}
	switch p[0] {
	case "no":
		o.Compress = CompressionLZONo
	case "yes", "adaptive":
		o.Compress = CompressionLZOYes
	default:
		return fmt.Errorf("%w: comp-lzo: unknown mode: %s", ErrBadConfig, p[0])
	}
	return nil
}

func parsePeerID(p []string, o *DataChannelOptions) error {
	if len(p) != 1 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "peer-id expects one arg")
	}
	v, err := strconv.Atoi(p[0])
	if err != nil {
		return fmt.Errorf("%w: peer-id: %s", ErrBadConfig, err)
	}
	peerID, err := NewPeerID(v)
	if err != nil {
		return err
	}
	o.PeerID = optional.Some(peerID)
	return nil
}

func parseReplayWindow(p []string, o *DataChannelOptions) error {
	// OpenVPN also takes an optional time window
	// as second argument, which we do not use.
	if len(p) < 1 || len(p) > 2 {
		return fmt.Errorf("%w: %s", ErrBadConfig, "replay-window expects one or two args")
	}
	v, err := strconv.Atoi(p[0])
	if err != nil || v <= 0 || v > MaxReplayWindow {
		return fmt.Errorf("%w: replay-window: bad size: %s", ErrBadConfig, p[0])
	}
	o.ReplayWindow = v
	return nil
}

var pMap = map[string]func([]string, *DataChannelOptions) error{
	"cipher":        parseCipher,
	"auth":          parseAuth,
	"compress":      parseCompress,
	"comp-lzo":      parseCompLZO,
	"peer-id":       parsePeerID,
	"replay-window": parseReplayWindow,
}

func parseOption(o *DataChannelOptions, key string, p []string, lineno int) error {
	fn, found := pMap[key]
	if !found {
		log.Warnf("ignoring unsupported key %q in line %d", key, lineno)
		return nil
	}
	return fn(p, o)
}

// getOptionsFromLines tries to parse all the lines coming from a config file
// and raises validation errors if the values do not conform to the expected
// format. Inline blocks (e.g., <ca>...</ca>) are skipped.
func getOptionsFromLines(lines []string) (*DataChannelOptions, error) {
	opt := NewDataChannelOptions("")

	inline := ""
	for lineno, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || strings.HasPrefix(l, "#") || strings.HasPrefix(l, ";") {
			continue
		}
		if inline != "" {
			if l == "</"+inline+">" {
				inline = ""
			}
			continue
		}
		if strings.HasPrefix(l, "<") && strings.HasSuffix(l, ">") && !strings.HasPrefix(l, "</") {
			inline = strings.Trim(l, "<>")
			continue
		}

		p := strings.Fields(l)
		key, parts := p[0], p[1:]
		if e := parseOption(opt, key, parts, lineno); e != nil {
			return nil, e
		}
	}
	if inline != "" {
		return nil, fmt.Errorf("%w: %s", ErrBadConfig, "tag not closed")
	}
	if err := opt.Validate(); err != nil {
		return nil, err
	}
	return opt, nil
}

// hasElement checks if a given string is present in a string array. returns
// true if that is the case, false otherwise.
func hasElement(el string, arr []string) bool {
	for _, v := range arr {
		if v == el {
			return true
		}
	}
	return false
}

func getLinesFromFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	lines := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
