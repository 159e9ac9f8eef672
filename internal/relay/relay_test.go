// relay_test.go - Relay engine tests.
// Copyright (C) 2026  The Onion Relay Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package relay

import (
	"crypto/rand"
	"net"
	"net/netip"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/onionrelay/internal/config"
	"github.com/katzenpost/onionrelay/internal/hoptable"
	"github.com/katzenpost/onionrelay/internal/wire"
	"github.com/katzenpost/onionrelay/internal/wirecrypto"
)

// freePort asks the kernel for an ephemeral port and immediately releases
// it, so tests can hand Relay.ListenAndServe a concrete port number
// instead of the "any port" wildcard it does not itself support.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// testConfig returns a valid configuration for a relay bound to fresh
// loopback ports, with its hostkey generated and saved under a
// per-test temp dir ahead of time, since New requires the hostkey
// file to already exist.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Hostname = "127.0.0.1"
	cfg.Port = freePort(t)
	cfg.APIPort = freePort(t)
	cfg.HostkeyPath = filepath.Join(t.TempDir(), "hostkey.pem")
	cfg.TCPTimeoutMS = 2000
	cfg.LogLevel = "ERROR"

	kp, err := wirecrypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	require.NoError(t, wirecrypto.SaveKeypairFile(cfg.HostkeyPath, kp))

	return cfg
}

// newTestRelay constructs a Relay without starting its listeners, for
// tests that exercise internal methods directly over net.Pipe sockets.
func newTestRelay(t *testing.T) *Relay {
	t.Helper()
	r, err := New(testConfig(t))
	require.NoError(t, err)
	return r
}

// TestNewFailsOnMissingHostkey covers spec.md §6's configuration-error
// exit path: a hostkey path that does not resolve to a file must fail
// New rather than silently minting a fresh identity.
func TestNewFailsOnMissingHostkey(t *testing.T) {
	cfg := testConfig(t)
	cfg.HostkeyPath = filepath.Join(t.TempDir(), "never-written.pem")

	_, err := New(cfg)
	require.Error(t, err)
}

// startTestRelay constructs and starts a Relay listening on loopback,
// halting it automatically at test cleanup.
func startTestRelay(t *testing.T, minimumHops int, rpsAddress string) *Relay {
	t.Helper()
	cfg := testConfig(t)
	cfg.MinimumHops = minimumHops
	if rpsAddress != "" {
		cfg.RPSAddress = rpsAddress
	}
	r, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, r.ListenAndServe())
	t.Cleanup(r.Halt)
	return r
}

// startFakeRPS runs a random-peer-sampling stand-in that replies
// with peer to every RPS_QUERY it receives, for as many connections as
// the test makes.
func startFakeRPS(t *testing.T, peer *wire.RPSPeer) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				frame, err := wire.ReadFrame(c)
				if err != nil {
					return
				}
				if _, ok := frame.(*wire.RPSQuery); !ok {
					return
				}
				_ = wire.WriteFrame(c, peer)
			}(c)
		}
	}()
	return ln.Addr().String()
}

// rpsPeerFor describes r (an already-started relay) as an RPS_PEER frame,
// the form the fake peer source hands back to a caller of GetRandomPeer.
func rpsPeerFor(r *Relay) *wire.RPSPeer {
	addr := netip.MustParseAddr(r.Config.Hostname)
	return &wire.RPSPeer{
		Port:    r.Config.APIPort,
		Modules: []wire.RPSModule{},
		Addr:    addr,
		Hostkey: r.Keys.PublicKey(),
	}
}

// dialControl opens a raw connection to r's control listener, the same
// way the external control client is expected to.
func dialControl(t *testing.T, r *Relay) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", net.JoinHostPort(r.Config.Hostname, portString(r.Config.Port)))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// seedTunnel installs a fully-formed intermediate tunnel row (both
// adjacencies present) directly into r's hop table, bypassing the ping
// handshake, for tests that exercise peeling/forwarding/teardown in
// isolation from tunnel construction.
func seedTunnel(r *Relay, id uint32, prev, next *conn) {
	r.Table.InsertOrUpdate(id, func(*hoptable.Tunnel) *hoptable.Tunnel {
		return &hoptable.Tunnel{
			ID:       id,
			State:    hoptable.StateActive,
			Previous: &hoptable.Hop{Conn: prev},
			Next:     &hoptable.Hop{Conn: next},
		}
	})
}

// seedTunnelPreviousOnly installs a tunnel row with only a previous hop,
// the shape a freshly-pinged intermediate has before it has extended any
// further.
func seedTunnelPreviousOnly(r *Relay, id uint32, prev *conn, prevHostkey wirecrypto.Hostkey) {
	r.Table.InsertOrUpdate(id, func(*hoptable.Tunnel) *hoptable.Tunnel {
		return &hoptable.Tunnel{
			ID:       id,
			State:    hoptable.StateBuilding,
			Previous: &hoptable.Hop{Hostkey: append([]byte{}, prevHostkey...), Conn: prev},
		}
	})
}

// fakePeer is the address a startFakePeerHandshake stand-in listens on.
type fakePeer struct {
	Addr netip.Addr
	Port uint16
}

// startFakePeerHandshake runs a one-shot TCP server that performs exactly
// the API_PING / API_PING_RESPONSE handshake a freshly-dialed hop
// performs (the response sealed inside an API_DATA addressed to the
// pinger), replying with hopKeys' public key as its own hostkey. It is a
// stand-in for a full Relay when a test only needs the handshake, not the
// rest of the protocol.
func startFakePeerHandshake(t *testing.T, hopKeys *wirecrypto.Keypair) fakePeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()

		frame, err := wire.ReadFrame(c)
		if err != nil {
			return
		}
		ping, ok := frame.(*wire.APIPing)
		if !ok {
			return
		}

		resp := wire.Serialize(&wire.APIPingResponse{TunnelID: ping.TunnelID, Hostkey: hopKeys.PublicKey()})
		ciphertext, err := wirecrypto.Encrypt(resp, wirecrypto.Hostkey(ping.Hostkey))
		if err != nil {
			return
		}
		env := &wire.APIData{
			TunnelID:       ping.TunnelID,
			HopFingerprint: wirecrypto.Fingerprint(ping.Hostkey),
			Payload:        ciphertext,
		}
		_ = wire.WriteFrame(c, env)
	}()

	tcpAddr := ln.Addr().(*net.TCPAddr)
	return fakePeer{Addr: netip.MustParseAddr(tcpAddr.IP.String()), Port: uint16(tcpAddr.Port)}
}

// Scenario 1 (§8): build with minimum-hops=2 through two real relay
// processes acting as the intermediates, terminating at a third acting as
// the destination, all connected over loopback.
func TestBuildTunnelTwoIntermediates(t *testing.T) {
	dest := startTestRelay(t, 2, "")
	hop2 := startTestRelay(t, 2, "")
	hop1RPS := startFakeRPS(t, rpsPeerFor(hop2))
	hop1 := startTestRelay(t, 2, hop1RPS)
	initiatorRPS := startFakeRPS(t, rpsPeerFor(hop1))
	initiator := startTestRelay(t, 2, initiatorRPS)

	cc := dialControl(t, initiator)

	// The destination address/port must be where dest's peer listener
	// actually accepts connections: the final-hop query is dialed
	// directly, not drawn from the peer source.
	destPort := dest.Config.APIPort
	destAddr := netip.MustParseAddr(dest.Config.Hostname)
	require.NoError(t, wire.WriteFrame(cc, &wire.TunnelBuild{
		DestPort:    destPort,
		DestAddr:    destAddr,
		DestHostkey: dest.Keys.PublicKey(),
	}))

	_ = cc.SetReadDeadline(time.Now().Add(5 * time.Second))
	frame, err := wire.ReadFrame(cc)
	require.NoError(t, err)
	ready, ok := frame.(*wire.TunnelReady)
	require.True(t, ok, "expected TUNNEL_READY, got %T", frame)
	require.Equal(t, dest.Keys.PublicKey(), wirecrypto.Hostkey(ready.DestHostkey))

	// The tunnel is active at the initiator: it has no previous hop (it
	// is the initiator) and a live next hop (hop1).
	tun := initiator.Table.Lookup(ready.TunnelID)
	require.NotNil(t, tun)
	require.Equal(t, hoptable.StateActive, tun.State)
	require.Nil(t, tun.Previous)
	require.NotNil(t, tun.Next)
}

// Scenario 2 (§8): an intermediate relay holding a tunnel forwards an
// API_DATA addressed to a different hostkey verbatim, without attempting
// to decrypt it.
func TestIntermediatePeelsAndForwards(t *testing.T) {
	r := newTestRelay(t)

	prevLocal, _ := net.Pipe()
	t.Cleanup(func() { prevLocal.Close() })
	nextLocal, nextRemote := net.Pipe()
	t.Cleanup(func() { nextLocal.Close(); nextRemote.Close() })

	prevConn := newConn(prevLocal, time.Second)
	nextConn := newConn(nextLocal, time.Second)
	seedTunnel(r, 7, prevConn, nextConn)

	other, err := wirecrypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	frame := &wire.APIData{
		TunnelID:       7,
		HopFingerprint: wirecrypto.Fingerprint(other.PublicKey()),
		Payload:        []byte("opaque ciphertext, not ours to open"),
	}

	// forwardVerbatim's write blocks until matched by a read on the
	// other end of the pipe, so the handler must run concurrently with
	// the read below rather than before it.
	go r.handleAPIData(prevConn, frame)

	_ = nextRemote.SetReadDeadline(time.Now().Add(time.Second))
	got, err := wire.ReadFrame(nextRemote)
	require.NoError(t, err)
	require.Equal(t, frame, got)
}

// Scenario 3 (§8): an intermediate relay that peels an API_NEXT_HOP_QUERY
// addressed to itself draws a fresh peer, extends the tunnel, and relays
// the new hop's hostkey back toward the previous hop.
func TestIntermediateTerminatesAndExtends(t *testing.T) {
	r := newTestRelay(t)

	prevKeys, err := wirecrypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)

	prevLocal, prevRemote := net.Pipe()
	t.Cleanup(func() { prevLocal.Close(); prevRemote.Close() })
	prevConn := newConn(prevLocal, 2*time.Second)

	seedTunnelPreviousOnly(r, 7, prevConn, prevKeys.PublicKey())

	newHopKeys, err := wirecrypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	peer := startFakePeerHandshake(t, newHopKeys)
	rpsAddr := startFakeRPS(t, &wire.RPSPeer{
		Port:    peer.Port,
		Modules: []wire.RPSModule{},
		Addr:    peer.Addr,
		Hostkey: newHopKeys.PublicKey(),
	})
	r.PeerSource.Address = rpsAddr

	query := wire.Serialize(&wire.APINextHopQuery{TunnelID: 7})
	ciphertext, err := wirecrypto.Encrypt(query, r.Keys.PublicKey())
	require.NoError(t, err)
	frame := &wire.APIData{TunnelID: 7, HopFingerprint: r.localFingerprint(), Payload: ciphertext}

	// replyToPrevious's write blocks until matched by a read on the
	// other end of the pipe, so the handler must run concurrently with
	// the read below rather than before it.
	go r.handleAPIData(prevConn, frame)

	_ = prevRemote.SetReadDeadline(time.Now().Add(2 * time.Second))
	got, err := wire.ReadFrame(prevRemote)
	require.NoError(t, err)
	env, ok := got.(*wire.APIData)
	require.True(t, ok)
	require.Equal(t, wirecrypto.Fingerprint(prevKeys.PublicKey()), env.HopFingerprint)

	plaintext, err := wirecrypto.Decrypt(env.Payload, prevKeys)
	require.NoError(t, err)
	inner, err := wire.Parse(plaintext)
	require.NoError(t, err)
	resp, ok := inner.(*wire.APINextHopResponse)
	require.True(t, ok)
	require.Equal(t, newHopKeys.PublicKey(), wirecrypto.Hostkey(resp.Hostkey))
}

// Scenario 4 (§8): destroying an active tunnel reaps its hop table row,
// closes both adjacent sockets, and forwards TUNNEL_DESTROY to the next
// hop before closing it.
func TestDestroyTunnelReapsState(t *testing.T) {
	r := newTestRelay(t)

	prevLocal, prevRemote := net.Pipe()
	t.Cleanup(func() { prevLocal.Close() })
	nextLocal, nextRemote := net.Pipe()
	t.Cleanup(func() { nextLocal.Close() })

	prevConn := newConn(prevLocal, time.Second)
	nextConn := newConn(nextLocal, time.Second)
	seedTunnel(r, 42, prevConn, nextConn)

	// DestroyTunnel writes TUNNEL_DESTROY to the next-hop socket before
	// closing it; net.Pipe's writes block until matched by a read, so
	// the call runs concurrently with the reads below rather than before
	// them.
	go r.DestroyTunnel(42)

	_ = nextRemote.SetReadDeadline(time.Now().Add(time.Second))
	frame, err := wire.ReadFrame(nextRemote)
	require.NoError(t, err)
	destroy, ok := frame.(*wire.TunnelDestroy)
	require.True(t, ok)
	require.Equal(t, uint32(42), destroy.TunnelID)

	_ = prevRemote.SetReadDeadline(time.Now().Add(time.Second))
	_, err = wire.ReadFrame(prevRemote)
	require.Error(t, err)

	require.False(t, r.Table.Has(42))
}

// Scenario 5 (§8): an unknown frame tag is logged and discarded without
// breaking the connection; a well-formed frame sent afterward is handled
// normally.
func TestMalformedFrameIsolation(t *testing.T) {
	r := newTestRelay(t)

	serverLocal, clientLocal := net.Pipe()
	t.Cleanup(func() { serverLocal.Close(); clientLocal.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.servePeerConn(newConn(serverLocal, 2*time.Second))
	}()

	// An unknown tag (0xFFFF), short body: logged and discarded, the
	// connection stays open.
	_, err := clientLocal.Write([]byte{0x00, 0x04, 0xFF, 0xFF})
	require.NoError(t, err)

	// A well-formed API_PING on the same connection is still handled: the
	// relay replies with an API_DATA addressed to the pinger's hostkey.
	pingerKeys, err := wirecrypto.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	ping := &wire.APIPing{TunnelID: 9, Hostkey: pingerKeys.PublicKey()}
	require.NoError(t, wire.WriteFrame(clientLocal, ping))

	_ = clientLocal.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply, err := wire.ReadFrame(clientLocal)
	require.NoError(t, err)
	env, ok := reply.(*wire.APIData)
	require.True(t, ok, "expected API_DATA ping reply, got %T", reply)
	require.Equal(t, wirecrypto.Fingerprint(pingerKeys.PublicKey()), env.HopFingerprint)

	require.True(t, r.Table.Has(wire.WidenTunnelID(9)))

	_ = clientLocal.Close()
	<-done
}
