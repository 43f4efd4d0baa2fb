// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pqchannel implements the post-quantum secure channel (spec.md
// §4.10, C10): a three-message handshake combining an ML-KEM
// key-encapsulation with an ML-DSA lattice signature, producing an
// authenticated, forward-secret, replay-protected XChaCha20-Poly1305
// transport. Adapted from _examples/luxfi-consensus/qzmq/qzmq.go's
// Session/Handshake/Encrypt/Decrypt shape, with the placeholder KEM/sig
// calls replaced by github.com/cloudflare/circl's real ML-KEM/ML-DSA, per
// _examples/parsdao-pars/quantum/verifier.go's use of the same family of
// circl primitives.
package pqchannel

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/luxfi/consensus/codec"
	"github.com/luxfi/consensus/khash"
)

// mldsa65SignatureSize is ML-DSA-65's fixed signature length (FIPS 204).
const mldsa65SignatureSize = 3309

// ProtocolVersion is the handshake wire version.
const ProtocolVersion uint16 = 1

// MaxTimestampSkew is the handshake timestamp tolerance (spec.md §4.10).
const MaxTimestampSkew = 300 * time.Second

// Error kinds, one per spec.md §7's Transport taxonomy.
var (
	ErrVersionMismatch = errors.New("pqchannel: version mismatch")
	ErrStaleTimestamp  = errors.New("pqchannel: stale timestamp")
	ErrKemFailed       = errors.New("pqchannel: kem failed")
	ErrSigFailed       = errors.New("pqchannel: signature failed")
	ErrNonceReplay     = errors.New("pqchannel: nonce replay")
	ErrTranscriptError = errors.New("pqchannel: transcript mismatch")
	ErrAeadError       = errors.New("pqchannel: aead failure")
	ErrSessionExpired  = errors.New("pqchannel: session expired")
	ErrFrameTooLarge   = errors.New("pqchannel: frame too large")
)

// MaxPlaintextSize bounds a single transport frame's plaintext payload to
// codec.MaxFrameSize, so an oversized message is rejected before it ever
// reaches the AEAD rather than silently truncated or split.
const MaxPlaintextSize = codec.MaxFrameSize

// counterSize is the width of the explicit counter prefixed to every
// transport frame, letting Decrypt tell a replayed/reordered frame (wrong
// counter) apart from a tampered one (right counter, bad tag).
const counterSize = 8

// AAD is the protocol-level associated-data tag for every transport frame.
var AAD = []byte("TT-P2P")

// NodeID is a 32-byte public-key fingerprint.
type NodeID [32]byte

// DeriveNodeID computes SHA256("TT_NODE_ID.v1" || sigPublicKeyBytes), the
// node's stable identity. Supplemented from
// _examples/original_source/src/p2p_secure.rs's doc-level identity model.
func DeriveNodeID(sigPublicKeyBytes []byte) NodeID {
	h := sha256.New()
	h.Write([]byte("TT_NODE_ID.v1"))
	h.Write(sigPublicKeyBytes)
	var out NodeID
	copy(out[:], h.Sum(nil))
	return out
}

// Identity is a node's long-term lattice signing keypair.
type Identity struct {
	SigPublic  *mldsa65.PublicKey
	SigPrivate *mldsa65.PrivateKey
	NodeID     NodeID
}

// GenerateIdentity creates a fresh ML-DSA-65 long-term identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := mldsa65.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return &Identity{SigPublic: pub, SigPrivate: priv, NodeID: DeriveNodeID(pubBytes)}, nil
}

// ephemeralKEM is a session's fresh ML-KEM-768 keypair.
type ephemeralKEM struct {
	public  mlkem768.PublicKey
	private mlkem768.PrivateKey
}

func generateEphemeralKEM() (*ephemeralKEM, error) {
	pk, sk, err := mlkem768.GenerateKeyPair(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &ephemeralKEM{public: *pk, private: *sk}, nil
}

// ClientHello is the handshake's first message.
type ClientHello struct {
	Version   uint16
	NodeID    NodeID
	SigPKBytes []byte
	KemPKBytes []byte
	NonceC    [32]byte
	Timestamp int64
}

// ServerHello is the handshake's second message.
type ServerHello struct {
	Version uint16
	NonceS  [32]byte
	KemCT   []byte
	// TranscriptHash is the transcript checkpoint (CH‖SH, pre-signature)
	// the server signed, sent alongside the signature so the client can
	// detect a transcript divergence (ErrTranscriptError) distinctly
	// from a cryptographically invalid signature (ErrSigFailed).
	TranscriptHash khash.Hash32
	SigBytes       []byte // signature over TranscriptHash
}

// ClientFinished is the handshake's third message.
type ClientFinished struct {
	// TranscriptHash is the transcript checkpoint (CH‖SH‖SIG_S) the
	// client signed, compared by the server before verifying SigBytes,
	// same purpose as ServerHello.TranscriptHash.
	TranscriptHash khash.Hash32
	SigBytes       []byte
}

// Session is an established secure channel: two independent AEAD
// directions, each with a strictly monotonic counter.
type Session struct {
	mu sync.Mutex

	sendKey     [32]byte
	recvKey     [32]byte
	sendCounter uint64
	recvCounter uint64
	sendAEAD    cipher.AEAD
	recvAEAD    cipher.AEAD
	createdAt   time.Time
	maxMessages uint64
}

func newCipher(key [32]byte) (cipher.AEAD, error) {
	return chacha20poly1305.NewX(key[:])
}

// clientHandshakeState carries the client's per-handshake material
// between the three message-producing steps.
type clientHandshakeState struct {
	identity   *Identity
	kem        *ephemeralKEM
	transcript *khash.Transcript
	nonceC     [32]byte
}

// BuildClientHello produces message 1 and returns the state needed to
// process the server's reply.
func BuildClientHello(identity *Identity) (ClientHello, *clientHandshakeState, error) {
	kem, err := generateEphemeralKEM()
	if err != nil {
		return ClientHello{}, nil, err
	}
	var nonceC [32]byte
	if _, err := rand.Read(nonceC[:]); err != nil {
		return ClientHello{}, nil, err
	}
	sigPKBytes, err := identity.SigPublic.MarshalBinary()
	if err != nil {
		return ClientHello{}, nil, err
	}
	kemPKBytes, err := kem.public.MarshalBinary()
	if err != nil {
		return ClientHello{}, nil, err
	}

	ch := ClientHello{
		Version:    ProtocolVersion,
		NodeID:     identity.NodeID,
		SigPKBytes: sigPKBytes,
		KemPKBytes: kemPKBytes,
		NonceC:     nonceC,
		Timestamp:  time.Now().Unix(),
	}

	tr := khash.NewTranscript()
	tr.Absorb(khash.TranscriptClientHello, encodeClientHello(ch))

	return ch, &clientHandshakeState{identity: identity, kem: kem, transcript: tr, nonceC: nonceC}, nil
}

// serverHandshakeState carries the server's per-handshake material
// between verifying the ClientHello and verifying the ClientFinished.
type serverHandshakeState struct {
	identity   *Identity
	transcript *khash.Transcript
	sessionKey [32]byte
	clientSigPK *mldsa65.PublicKey
}

// HandleClientHello verifies the ClientHello and produces message 2.
func HandleClientHello(identity *Identity, ch ClientHello, now time.Time) (ServerHello, *serverHandshakeState, error) {
	if ch.Version != ProtocolVersion {
		return ServerHello{}, nil, ErrVersionMismatch
	}
	skew := now.Unix() - ch.Timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > MaxTimestampSkew {
		return ServerHello{}, nil, ErrStaleTimestamp
	}

	clientSigPK, err := unmarshalSigPublic(ch.SigPKBytes)
	if err != nil {
		return ServerHello{}, nil, ErrSigFailed
	}
	clientKemPK, err := mlkem768.Scheme().UnmarshalBinaryPublicKey(ch.KemPKBytes)
	if err != nil {
		return ServerHello{}, nil, ErrKemFailed
	}

	ct, ss, err := mlkem768.Scheme().Encapsulate(clientKemPK)
	if err != nil {
		return ServerHello{}, nil, ErrKemFailed
	}

	var nonceS [32]byte
	if _, err := rand.Read(nonceS[:]); err != nil {
		return ServerHello{}, nil, err
	}

	sessionKey := khash.KMAC256(khash.LabelSession, ss, ch.NonceC[:], nonceS[:])

	tr := khash.NewTranscript()
	tr.Absorb(khash.TranscriptClientHello, encodeClientHello(ch))
	sh := ServerHello{Version: ProtocolVersion, NonceS: nonceS, KemCT: ct}
	tr.Absorb(khash.TranscriptServerHello, encodeServerHello(sh))

	sig := make([]byte, mldsa65SignatureSize)
	trSum := tr.Sum()
	if err := mldsa65.SignTo(identity.SigPrivate, trSum[:], nil, true, sig); err != nil {
		return ServerHello{}, nil, ErrSigFailed
	}
	sh.TranscriptHash = trSum
	sh.SigBytes = sig
	tr.Absorb(khash.TranscriptSigServer, sig)

	return sh, &serverHandshakeState{
		identity:    identity,
		transcript:  tr,
		sessionKey:  [32]byte(sessionKey),
		clientSigPK: clientSigPK,
	}, nil
}

// HandleServerHello (client side) verifies the server's signature,
// decapsulates, derives the session key, and produces message 3.
func HandleServerHello(state *clientHandshakeState, serverIdentity *Identity, sh ServerHello) (ClientFinished, *Session, error) {
	if sh.Version != ProtocolVersion {
		return ClientFinished{}, nil, ErrVersionMismatch
	}
	ss, err := mlkem768.Scheme().Decapsulate(&state.kem.private, sh.KemCT)
	if err != nil {
		return ClientFinished{}, nil, ErrKemFailed
	}
	sessionKey := khash.KMAC256(khash.LabelSession, ss, state.nonceC[:], sh.NonceS[:])

	tr := state.transcript
	shForTranscript := sh
	shForTranscript.SigBytes = nil
	tr.Absorb(khash.TranscriptServerHello, encodeServerHello(shForTranscript))
	expected := tr.Sum()

	if expected != sh.TranscriptHash {
		return ClientFinished{}, nil, ErrTranscriptError
	}
	if !mldsa65.Verify(serverIdentity.SigPublic, expected[:], nil, sh.SigBytes) {
		return ClientFinished{}, nil, ErrSigFailed
	}
	tr.Absorb(khash.TranscriptSigServer, sh.SigBytes)

	clientSig := make([]byte, mldsa65SignatureSize)
	trSum2 := tr.Sum()
	if err := mldsa65.SignTo(state.identity.SigPrivate, trSum2[:], nil, true, clientSig); err != nil {
		return ClientFinished{}, nil, ErrSigFailed
	}
	tr.Absorb(khash.TranscriptSigClient, clientSig)

	sess, err := newSession(sessionKey, true)
	if err != nil {
		return ClientFinished{}, nil, err
	}
	return ClientFinished{TranscriptHash: trSum2, SigBytes: clientSig}, sess, nil
}

// HandleClientFinished (server side) verifies the client's signature and
// establishes the session.
func HandleClientFinished(state *serverHandshakeState, cf ClientFinished) (*Session, error) {
	expected := state.transcript.Sum()
	if expected != cf.TranscriptHash {
		return nil, ErrTranscriptError
	}
	if !mldsa65.Verify(state.clientSigPK, expected[:], nil, cf.SigBytes) {
		return nil, ErrSigFailed
	}
	state.transcript.Absorb(khash.TranscriptSigClient, cf.SigBytes)
	return newSession(state.sessionKey, false)
}

func newSession(sessionKey [32]byte, isClient bool) (*Session, error) {
	// Both directions derive from the same session key but with distinct
	// roles, so the two peers' send/recv keys cross correctly: the
	// client's send key is the server's recv key and vice versa.
	clientToServer := khash.KMAC256(khash.LabelSession, sessionKey[:], []byte("C2S"))
	serverToClient := khash.KMAC256(khash.LabelSession, sessionKey[:], []byte("S2C"))

	var sendKeyRaw, recvKeyRaw khash.Hash32
	if isClient {
		sendKeyRaw, recvKeyRaw = clientToServer, serverToClient
	} else {
		sendKeyRaw, recvKeyRaw = serverToClient, clientToServer
	}

	sendCipher, err := newCipher([32]byte(sendKeyRaw))
	if err != nil {
		return nil, err
	}
	recvCipher, err := newCipher([32]byte(recvKeyRaw))
	if err != nil {
		return nil, err
	}

	return &Session{
		sendKey:     [32]byte(sendKeyRaw),
		recvKey:     [32]byte(recvKeyRaw),
		sendAEAD:    sendCipher,
		recvAEAD:    recvCipher,
		createdAt:   time.Now(),
		maxMessages: 1_000_000,
	}, nil
}

// nonceFor lays out counter_LE(8) || 0x00*16, per spec.md §4.10.
func nonceFor(counter uint64) [24]byte {
	var n [24]byte
	binary.LittleEndian.PutUint64(n[:8], counter)
	return n
}

// Encrypt seals plaintext under the session's send direction, advancing
// its counter. The wire frame is the 8-byte little-endian send counter
// followed by the AEAD ciphertext, so the peer's Decrypt can tell a
// replayed/reordered frame apart from a merely-tampered one. Returns
// ErrSessionExpired once MaxMessagesPerSession is reached, and
// ErrFrameTooLarge if plaintext exceeds MaxPlaintextSize.
func (s *Session) Encrypt(plaintext []byte) ([]byte, error) {
	if len(plaintext) > MaxPlaintextSize {
		return nil, ErrFrameTooLarge
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendCounter >= s.maxMessages {
		return nil, ErrSessionExpired
	}
	counter := s.sendCounter
	nonce := nonceFor(counter)
	s.sendCounter++
	ct := s.sendAEAD.Seal(nil, nonce[:], plaintext, AAD)
	out := make([]byte, counterSize+len(ct))
	binary.LittleEndian.PutUint64(out[:counterSize], counter)
	copy(out[counterSize:], ct)
	return out, nil
}

// Decrypt opens a frame produced by the peer's Encrypt, using the
// session's recv direction. It returns ErrNonceReplay if the frame's
// counter does not match the next expected recv counter (a replayed or
// reordered frame never gets as far as the AEAD), ErrAeadError on tamper
// of an in-order frame, ErrSessionExpired once MaxMessagesPerSession is
// reached, and ErrFrameTooLarge if the frame is longer than a sealed
// MaxPlaintextSize payload (plus its counter and AEAD tag).
func (s *Session) Decrypt(frame []byte) ([]byte, error) {
	if len(frame) > MaxPlaintextSize+counterSize+chacha20poly1305.Overhead {
		return nil, ErrFrameTooLarge
	}
	if len(frame) < counterSize {
		return nil, ErrAeadError
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recvCounter >= s.maxMessages {
		return nil, ErrSessionExpired
	}
	counter := binary.LittleEndian.Uint64(frame[:counterSize])
	if counter != s.recvCounter {
		return nil, ErrNonceReplay
	}
	nonce := nonceFor(counter)
	pt, err := s.recvAEAD.Open(nil, nonce[:], frame[counterSize:], AAD)
	if err != nil {
		return nil, ErrAeadError
	}
	s.recvCounter++
	return pt, nil
}

func unmarshalSigPublic(b []byte) (*mldsa65.PublicKey, error) {
	var pk mldsa65.PublicKey
	if err := pk.UnmarshalBinary(b); err != nil {
		return nil, err
	}
	return &pk, nil
}

func encodeClientHello(ch ClientHello) []byte {
	buf := make([]byte, 0, 2+32+4+len(ch.SigPKBytes)+4+len(ch.KemPKBytes)+32+8)
	buf = appendU16(buf, ch.Version)
	buf = append(buf, ch.NodeID[:]...)
	buf = appendBytes(buf, ch.SigPKBytes)
	buf = appendBytes(buf, ch.KemPKBytes)
	buf = append(buf, ch.NonceC[:]...)
	buf = appendI64(buf, ch.Timestamp)
	return buf
}

func encodeServerHello(sh ServerHello) []byte {
	buf := make([]byte, 0, 2+32+4+len(sh.KemCT)+4+len(sh.SigBytes))
	buf = appendU16(buf, sh.Version)
	buf = append(buf, sh.NonceS[:]...)
	buf = appendBytes(buf, sh.KemCT)
	buf = appendBytes(buf, sh.SigBytes)
	return buf
}

func appendU16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendI64(b []byte, v int64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	return append(b, tmp[:]...)
}

func appendBytes(b, v []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(v)))
	b = append(b, lenBuf[:]...)
	return append(b, v...)
}
