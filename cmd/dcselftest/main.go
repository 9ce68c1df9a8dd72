// Command dcselftest runs ICMP echo traffic through a pair of data channels
// (client and server) keyed from freshly generated key sources.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/apex/log"
	"github.com/pborman/getopt/v2"

	"github.com/ooni/ovpndata/internal/datachannel"
	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/prng"
	"github.com/ooni/ovpndata/internal/provider"
	"github.com/ooni/ovpndata/internal/securebuf"
	"github.com/ooni/ovpndata/internal/vpntest"
	"github.com/ooni/ovpndata/internal/workers"
)

var (
	startTime = time.Now()
)

func printUsage() {
	getopt.Usage()
	os.Exit(0)
}

func main() {
	optConfig := getopt.StringLong("config", 'c', "", "Read the data channel options from this configuration file")
	optCipher := getopt.StringLong("cipher", 'C', "AES-256-GCM", "Data channel cipher")
	optAuth := getopt.StringLong("auth", 'a', model.DefaultAuth, "HMAC digest for CBC ciphers")
	optCompress := getopt.StringLong("compress", 'z', "", "Compression directive (e.g., \"compress lz4-v2\" or \"comp-lzo no\")")
	optPeerID := getopt.IntLong("peer-id", 'p', -1, "Use P_DATA_V2 with this peer-id")
	optCount := getopt.Uint32Long("count", 'n', uint32(10), "Number of ECHO_REQUEST packets to send")
	optSize := getopt.IntLong("size", 's', 56, "Size of the ICMP payload")
	optService := getopt.BoolLong("service", 'w', "Move the packets through the data channel workers")
	optVerbosity := getopt.Uint16Long("verbosity", 'v', uint16(4), "Verbosity level (1 to 5, 1 is lowest)")

	helpFlag := getopt.Bool('h', "Display help")

	getopt.Parse()

	if *helpFlag {
		printUsage()
	}

	verbosityLevel := log.InfoLevel
	switch *optVerbosity {
	case uint16(1):
		verbosityLevel = log.FatalLevel
	case uint16(2):
		verbosityLevel = log.ErrorLevel
	case uint16(3):
		verbosityLevel = log.WarnLevel
	case uint16(4):
		verbosityLevel = log.InfoLevel
	default:
		verbosityLevel = log.DebugLevel
	}
	logger := &log.Logger{Level: verbosityLevel, Handler: &logHandler{Writer: os.Stderr}}

	var (
		opts *model.DataChannelOptions
		err  error
	)
	if *optConfig != "" {
		logger.Debugf("config file: %s", *optConfig)
		opts, err = model.ReadConfigFile(*optConfig)
	} else {
		directives := []string{"cipher " + *optCipher, "auth " + *optAuth}
		if *optCompress != "" {
			directives = append(directives, *optCompress)
		}
		if *optPeerID >= 0 {
			directives = append(directives, "peer-id "+strconv.Itoa(*optPeerID))
		}
		opts, err = model.ParseDirectives(directives...)
	}
	if err != nil {
		logger.WithError(err).Error("cannot parse the options")
		os.Exit(1)
	}

	st := &selfTest{
		logger:  logger,
		options: opts,
		count:   int(*optCount),
		size:    *optSize,
	}
	if err := st.run(*optService); err != nil {
		logger.WithError(err).Error("self test failed")
		os.Exit(1)
	}
}

// errLostPackets means that some echo requests did not make it through.
var errLostPackets = errors.New("lost packets")

type selfTest struct {
	logger  *log.Logger
	options *model.DataChannelOptions
	count   int
	size    int
}

func (st *selfTest) run(useService bool) error {
	source := prng.New()
	prov := provider.NewReal(source)

	// the seed only supplements the operating system CSPRNG
	hostname, _ := os.Hostname()
	seed := securebuf.FromBytes([]byte(fmt.Sprintf("%s/%d/%d", hostname, os.Getpid(), startTime.UnixNano())))
	if err := prov.InitSeed(seed); err != nil {
		return err
	}

	client, server, err := st.newDataChannels(prov)
	if err != nil {
		return err
	}

	packets, err := vpntest.NewICMPEchoSequence("10.8.0.2", "10.8.0.1", st.count, st.size)
	if err != nil {
		return err
	}

	var received int
	if useService {
		received, err = st.runService(client, server, packets)
	} else {
		received, err = st.runLoop(client, server, packets)
		client.Close()
		server.Close()
	}
	if err != nil {
		return err
	}
	st.logger.Infof("client: %s", client.Stats())
	st.logger.Infof("server: %s", server.Stats())
	st.logger.Infof("%d packets transmitted, %d received", len(packets), received)
	if received != len(packets) {
		return fmt.Errorf("%w: %d", errLostPackets, len(packets)-received)
	}
	return nil
}

// newDataChannels derives the keys the way both ends of a session would
// and returns the client and server data channels.
func (st *selfTest) newDataChannels(prov provider.Provider) (*datachannel.DataChannel, *datachannel.DataChannel, error) {
	clientSource, err := datachannel.NewKeySource(prov)
	if err != nil {
		return nil, nil, err
	}
	defer clientSource.Destroy()
	serverSource, err := datachannel.NewKeySource(prov)
	if err != nil {
		return nil, nil, err
	}
	defer serverSource.Destroy()

	var clientSID, serverSID model.SessionID
	if !prov.Fill(clientSID[:]) || !prov.Fill(serverSID[:]) {
		return nil, nil, datachannel.ErrEntropyUnavailable
	}
	keys, err := datachannel.DeriveKeyMaterial(clientSource, serverSource, clientSID, serverSID)
	if err != nil {
		return nil, nil, err
	}
	serverKeys := keys.Inverse()

	client, err := datachannel.New(st.newConfig("client"), prov, keys)
	if err != nil {
		serverKeys.Destroy()
		return nil, nil, err
	}
	server, err := datachannel.New(st.newConfig("server"), prov, serverKeys)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return client, server, nil
}

func (st *selfTest) newConfig(role string) *model.Config {
	return model.NewConfig(
		model.WithDataChannelOptions(st.options),
		model.WithLogger(st.logger.WithField("role", role)),
	)
}

// runLoop moves each packet from client to server and back.
func (st *selfTest) runLoop(client, server *datachannel.DataChannel, packets [][]byte) (int, error) {
	received := 0
	for _, packet := range packets {
		frame, err := client.Encrypt(packet)
		if err != nil {
			return received, err
		}
		decrypted, err := server.Decrypt(frame)
		if err != nil {
			continue
		}
		frame, err = server.Encrypt(decrypted)
		if err != nil {
			return received, err
		}
		if decrypted, err = client.Decrypt(frame); err != nil {
			continue
		}
		if st.checkEcho(decrypted) {
			received++
		}
	}
	return received, nil
}

// runService moves the packets through two connected services. The
// workers close the data channels on shutdown.
func (st *selfTest) runService(client, server *datachannel.DataChannel, packets [][]byte) (int, error) {
	toServer := make(chan []byte, 64)
	toClient := make(chan []byte, 64)
	clientService := &datachannel.Service{
		TUNToData:     make(chan []byte, 64),
		DataToNetwork: toServer,
		NetworkToData: toClient,
		DataToTUN:     make(chan []byte, 64),
		KeyReady:      make(chan *datachannel.KeyMaterial),
	}
	serverService := &datachannel.Service{
		TUNToData:     make(chan []byte, 64),
		DataToNetwork: toClient,
		NetworkToData: toServer,
		DataToTUN:     make(chan []byte, 64),
		KeyReady:      make(chan *datachannel.KeyMaterial),
	}

	manager := workers.NewManager()
	clientService.StartWorkers(st.logger.WithField("role", "client"), manager, client)
	serverService.StartWorkers(st.logger.WithField("role", "server"), manager, server)
	defer func() {
		manager.StartShutdown()
		manager.WaitWorkersShutdown()
	}()

	received := 0
	for _, packet := range packets {
		clientService.TUNToData <- packet
		select {
		case decrypted := <-serverService.DataToTUN:
			serverService.TUNToData <- decrypted
		case <-time.After(time.Second):
			st.logger.Warn("timeout waiting for the server")
			continue
		case <-manager.ShouldShutdown():
			return received, workers.ErrShutdown
		}
		select {
		case decrypted := <-clientService.DataToTUN:
			if st.checkEcho(decrypted) {
				received++
			}
		case <-time.After(time.Second):
			st.logger.Warn("timeout waiting for the client")
		case <-manager.ShouldShutdown():
			return received, workers.ErrShutdown
		}
	}
	return received, nil
}

func (st *selfTest) checkEcho(packet []byte) bool {
	echo, err := vpntest.ParseICMPEcho(packet)
	if err != nil {
		st.logger.WithError(err).Warn("unexpected packet")
		return false
	}
	st.logger.Debugf("%d bytes from %s: icmp_seq=%d ttl=%d", len(echo.Payload), echo.Src, echo.Seq, echo.TTL)
	return true
}

type logHandler struct {
	io.Writer
}

func (h *logHandler) HandleLog(e *log.Entry) (err error) {
	var s string
	if e.Level == log.DebugLevel {
		s = e.Message
	} else if e.Level == log.ErrorLevel {
		s = fmt.Sprintf("[%14.6f] <!err> %s", time.Since(startTime).Seconds(), e.Message)
	} else {
		s = fmt.Sprintf("[%14.6f] <%s> %s", time.Since(startTime).Seconds(), e.Level, e.Message)
	}
	if len(e.Fields) > 0 {
		s += fmt.Sprintf(": %+v", e.Fields)
	}
	s += "\n"
	_, err = h.Writer.Write([]byte(s))
	return
}
