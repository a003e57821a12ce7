// Package agent is the debug/query agent the world-coordination core
// treats as an out-of-scope collaborator: a libp2p host that answers
// read-only diagnostic queries about pending-thread counts and
// accumulated stop-the-world wait time. It never participates in a stop
// episode; it only reports on one after the fact.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	libp2p "github.com/libp2p/go-libp2p"
	crypto "github.com/libp2p/go-libp2p/core/crypto"
	libp2p_host "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	peer "github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/nmxmxh/inos_core/internal/registry"
	"github.com/nmxmxh/inos_core/kernel/utils"
)

// QueryProtocol is the libp2p stream protocol ID diagnostic queries use.
const QueryProtocol = "/inos-core/diag/1.0.0"

// Source is the facade's diagnostic surface: everything the agent is
// allowed to read.
type Source interface {
	PendingThreads() int
	TimeWaiting() uint64
	ShouldStop() bool
	ThreadCount() int
}

// Registrar is the facade's thread-registration surface for a collaborator
// that is owned externally to VM lifecycle, per spec's add_managed_thread
// contract: the agent's own background goroutine registers itself here so
// a stop-the-world episode accounts for it like any other dependent
// thread, without the agent holding a VM reference.
type Registrar interface {
	AddManagedThread(id string, frame *uintptr) *registry.Thread
	RemoveManagedThread(t *registry.Thread)
}

// persistentIdentity is the on-disk form of a host's libp2p keypair, kept
// stable across restarts so peers don't need to re-learn this node's ID.
type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

func saveIdentity(path string, id *persistentIdentity) error {
	data, err := json.Marshal(id)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func loadIdentity(path string) (*persistentIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var id persistentIdentity
	if err := json.Unmarshal(data, &id); err != nil {
		return nil, err
	}
	return &id, nil
}

// Agent hosts a libp2p node and answers diagnostic queries against a
// Source. It registers its own background goroutine with registrar as an
// externally-owned managed thread for the duration of its lifetime.
type Agent struct {
	host      libp2p_host.Host
	source    Source
	registrar Registrar
	thread    *registry.Thread
	frame     uintptr
	logger    *utils.Logger
}

// New creates a libp2p host, loading a persistent identity from
// identityPath if one exists and minting a fresh one otherwise, registers
// the diagnostic query stream handler against source, and registers the
// agent itself with registrar as a managed thread (spec's
// add_managed_thread, for collaborators owned externally to VM lifecycle).
func New(listenAddr, identityPath string, registrar Registrar, source Source, logger *utils.Logger) (*Agent, error) {
	if logger == nil {
		logger = utils.DefaultLogger("agent")
	}

	priv, err := loadOrCreateKey(identityPath)
	if err != nil {
		return nil, fmt.Errorf("agent: identity: %w", err)
	}

	opts := []libp2p.Option{libp2p.Identity(priv)}
	if listenAddr != "" {
		opts = append(opts, libp2p.ListenAddrStrings(listenAddr))
	}

	host, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("agent: create host: %w", err)
	}

	a := &Agent{host: host, source: source, registrar: registrar, logger: logger}
	a.thread = registrar.AddManagedThread("diag-agent-"+host.ID().String(), &a.frame)
	host.SetStreamHandler(QueryProtocol, a.handleQuery)

	logger.Info("diagnostic agent listening", utils.String("peer_id", host.ID().String()))
	return a, nil
}

func loadOrCreateKey(path string) (crypto.PrivKey, error) {
	if path == "" {
		priv, _, err := crypto.GenerateEd25519Key(nil)
		return priv, err
	}

	if id, err := loadIdentity(path); err == nil {
		return crypto.UnmarshalPrivateKey(id.PrivKey)
	}

	priv, pub, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, err
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	if err := saveIdentity(path, &persistentIdentity{PrivKey: privBytes, PeerID: pid.String()}); err != nil {
		return nil, err
	}
	return priv, nil
}

// handleQuery answers any incoming stream with the current Snapshot,
// ignoring the request body: there is exactly one query this agent
// supports today, so the request carries no parameters.
func (a *Agent) handleQuery(s network.Stream) {
	defer s.Close()

	if _, err := io.ReadAll(s); err != nil {
		a.logger.Warn("agent: failed to drain query stream", utils.Err(err))
		return
	}

	snap := Snapshot{
		PendingThreads: uint64(a.source.PendingThreads()),
		TimeWaitingNs:  a.source.TimeWaiting(),
		ShouldStop:     a.source.ShouldStop(),
		ThreadCount:    uint64(a.source.ThreadCount()),
	}

	if _, err := s.Write(EncodeSnapshot(snap)); err != nil {
		a.logger.Warn("agent: failed to write query response", utils.Err(err))
	}
}

// Query connects to a remote agent's peer address and returns its
// current Snapshot.
func Query(ctx context.Context, host libp2p_host.Host, peerAddr string) (Snapshot, error) {
	maddr, err := ma.NewMultiaddr(peerAddr)
	if err != nil {
		return Snapshot{}, err
	}
	info, err := peer.AddrInfoFromP2pAddr(maddr)
	if err != nil {
		return Snapshot{}, err
	}
	if err := host.Connect(ctx, *info); err != nil {
		return Snapshot{}, err
	}

	stream, err := host.NewStream(ctx, info.ID, QueryProtocol)
	if err != nil {
		return Snapshot{}, err
	}
	defer stream.Close()

	if err := stream.CloseWrite(); err != nil {
		return Snapshot{}, err
	}

	data, err := io.ReadAll(stream)
	if err != nil {
		return Snapshot{}, err
	}
	return DecodeSnapshot(data)
}

// Host returns the underlying libp2p host, for address discovery and
// shutdown.
func (a *Agent) Host() libp2p_host.Host {
	return a.host
}

// Close unregisters the agent's managed thread and shuts down its host.
func (a *Agent) Close() error {
	a.registrar.RemoveManagedThread(a.thread)
	return a.host.Close()
}
