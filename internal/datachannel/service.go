package datachannel

//
// Data channel workers
//

import (
	"errors"
	"sync"

	"github.com/ooni/ovpndata/internal/model"
	"github.com/ooni/ovpndata/internal/workers"
)

// Service runs a [DataChannel] between the tunnel and the network. Make sure
// you initialize the channels before invoking [Service.StartWorkers].
type Service struct {
	// TUNToData carries plaintext packets read from the tunnel.
	TUNToData chan []byte

	// DataToNetwork carries encrypted frames to be written to the network.
	DataToNetwork chan []byte

	// NetworkToData carries frames read from the network.
	NetworkToData chan []byte

	// DataToTUN carries decrypted packets to be written to the tunnel.
	DataToTUN chan []byte

	// KeyReady carries new key material for the data channel.
	KeyReady chan *KeyMaterial
}

// StartWorkers starts the data-channel workers, which share dc. The
// workers take ownership of dc and close it when they are done.
//
// We start four workers:
//
// 1. moveDownWorker BLOCKS on TUNToData to read a packet and eventually
// BLOCKS on DataToNetwork to deliver the encrypted frame;
//
// 2. moveUpWorker BLOCKS on NetworkToData to read a frame and eventually
// BLOCKS on DataToTUN to deliver the decrypted packet;
//
// 3. keyWorker BLOCKS on KeyReady to read new key material and installs it;
//
// 4. closeWorker waits for the shutdown signal and closes the data channel.
//
// Any worker that exits triggers the shutdown of the others. Fatal errors
// (exhausted packet IDs, unavailable entropy) stop the workers.
func (s *Service) StartWorkers(logger model.Logger, manager *workers.Manager, dc *DataChannel) {
	ws := &workersState{
		logger:        logger,
		manager:       manager,
		dataChannel:   dc,
		tunToData:     s.TUNToData,
		dataToNetwork: s.DataToNetwork,
		networkToData: s.NetworkToData,
		dataToTUN:     s.DataToTUN,
		keyReady:      s.KeyReady,
	}
	manager.StartWorker(ws.moveDownWorker)
	manager.StartWorker(ws.moveUpWorker)
	manager.StartWorker(ws.keyWorker)
	manager.StartWorker(ws.closeWorker)
}

// workersState contains the data channel workers state.
type workersState struct {
	logger  model.Logger
	manager *workers.Manager

	// mu serializes the access to dataChannel.
	mu          sync.Mutex
	dataChannel *DataChannel

	tunToData     <-chan []byte
	dataToNetwork chan<- []byte
	networkToData <-chan []byte
	dataToTUN     chan<- []byte
	keyReady      <-chan *KeyMaterial
}

func (ws *workersState) encrypt(payload []byte) ([]byte, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.dataChannel.Encrypt(payload)
}

func (ws *workersState) decrypt(frame []byte) ([]byte, error) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.dataChannel.Decrypt(frame)
}

func (ws *workersState) rekey(keys *KeyMaterial) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.dataChannel.Rekey(keys)
}

// moveDownWorker moves packets down the stack.
func (ws *workersState) moveDownWorker() {
	defer func() {
		ws.manager.OnWorkerDone()
		ws.manager.StartShutdown()
		ws.logger.Debug("datachannel: moveDownWorker: done")
	}()
	for {
		select {
		case data := <-ws.tunToData:
			frame, err := ws.encrypt(data)
			if errors.Is(err, ErrSequenceExhausted) || errors.Is(err, ErrEntropyUnavailable) {
				ws.logger.Warnf("datachannel: cannot encrypt: %v", err)
				return
			}
			if err != nil {
				ws.logger.Warnf("datachannel: error encrypting: %v", err)
				continue
			}
			select {
			case ws.dataToNetwork <- frame:
			default:
				// drop the packet if the buffer is full
			case <-ws.manager.ShouldShutdown():
				return
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// moveUpWorker moves packets up the stack.
func (ws *workersState) moveUpWorker() {
	defer func() {
		ws.manager.OnWorkerDone()
		ws.manager.StartShutdown()
		ws.logger.Debug("datachannel: moveUpWorker: done")
	}()
	for {
		select {
		case frame := <-ws.networkToData:
			decrypted, err := ws.decrypt(frame)
			if err != nil {
				// Decrypt already logged the reason
				continue
			}
			select {
			case ws.dataToTUN <- decrypted:
			case <-ws.manager.ShouldShutdown():
				return
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// keyWorker installs new key material.
func (ws *workersState) keyWorker() {
	defer func() {
		ws.manager.OnWorkerDone()
		ws.manager.StartShutdown()
		ws.logger.Debug("datachannel: keyWorker: done")
	}()
	for {
		select {
		case keys := <-ws.keyReady:
			if err := ws.rekey(keys); err != nil {
				ws.logger.Warnf("datachannel: cannot install new key: %v", err)
			}

		case <-ws.manager.ShouldShutdown():
			return
		}
	}
}

// closeWorker closes the data channel on shutdown.
func (ws *workersState) closeWorker() {
	defer ws.manager.OnWorkerDone()
	<-ws.manager.ShouldShutdown()
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.dataChannel.Close()
}
