// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pqchannel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fullHandshake(t *testing.T) (*Session, *Session) {
	t.Helper()
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	serverID, err := GenerateIdentity()
	require.NoError(t, err)

	ch, clientState, err := BuildClientHello(clientID)
	require.NoError(t, err)

	sh, serverState, err := HandleClientHello(serverID, ch, time.Now())
	require.NoError(t, err)

	cf, clientSess, err := HandleServerHello(clientState, serverID, sh)
	require.NoError(t, err)

	serverSess, err := HandleClientFinished(serverState, cf)
	require.NoError(t, err)

	return clientSess, serverSess
}

func TestHandshakeEstablishesMatchingSessions(t *testing.T) {
	client, server := fullHandshake(t)

	ct, err := client.Encrypt([]byte("hello server"))
	require.NoError(t, err)
	pt, err := server.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "hello server", string(pt))

	ct2, err := server.Encrypt([]byte("hello client"))
	require.NoError(t, err)
	pt2, err := client.Decrypt(ct2)
	require.NoError(t, err)
	require.Equal(t, "hello client", string(pt2))
}

func TestHandshakeRejectsVersionMismatch(t *testing.T) {
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	serverID, err := GenerateIdentity()
	require.NoError(t, err)

	ch, _, err := BuildClientHello(clientID)
	require.NoError(t, err)
	ch.Version = ProtocolVersion + 1

	_, _, err = HandleClientHello(serverID, ch, time.Now())
	require.ErrorIs(t, err, ErrVersionMismatch)
}

func TestHandshakeRejectsStaleTimestamp(t *testing.T) {
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	serverID, err := GenerateIdentity()
	require.NoError(t, err)

	ch, _, err := BuildClientHello(clientID)
	require.NoError(t, err)

	_, _, err = HandleClientHello(serverID, ch, time.Now().Add(time.Hour))
	require.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	client, server := fullHandshake(t)

	ct, err := client.Encrypt([]byte("payload"))
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff

	_, err = server.Decrypt(ct)
	require.ErrorIs(t, err, ErrAeadError)
}

func TestDecryptRejectsReplay(t *testing.T) {
	client, server := fullHandshake(t)

	ct, err := client.Encrypt([]byte("once"))
	require.NoError(t, err)
	_, err = server.Decrypt(ct)
	require.NoError(t, err)

	_, err = server.Decrypt(ct)
	require.ErrorIs(t, err, ErrNonceReplay)
}

func TestHandleServerHelloRejectsTranscriptMismatch(t *testing.T) {
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	serverID, err := GenerateIdentity()
	require.NoError(t, err)

	ch, clientState, err := BuildClientHello(clientID)
	require.NoError(t, err)
	sh, _, err := HandleClientHello(serverID, ch, time.Now())
	require.NoError(t, err)

	sh.TranscriptHash[0] ^= 0xff

	_, _, err = HandleServerHello(clientState, serverID, sh)
	require.ErrorIs(t, err, ErrTranscriptError)
}

func TestHandleClientFinishedRejectsTranscriptMismatch(t *testing.T) {
	clientID, err := GenerateIdentity()
	require.NoError(t, err)
	serverID, err := GenerateIdentity()
	require.NoError(t, err)

	ch, clientState, err := BuildClientHello(clientID)
	require.NoError(t, err)
	sh, serverState, err := HandleClientHello(serverID, ch, time.Now())
	require.NoError(t, err)
	cf, _, err := HandleServerHello(clientState, serverID, sh)
	require.NoError(t, err)

	cf.TranscriptHash[0] ^= 0xff

	_, err = HandleClientFinished(serverState, cf)
	require.ErrorIs(t, err, ErrTranscriptError)
}

func TestSessionExpiresAfterMaxMessages(t *testing.T) {
	client, _ := fullHandshake(t)
	client.maxMessages = 1
	_, err := client.Encrypt([]byte("one"))
	require.NoError(t, err)
	_, err = client.Encrypt([]byte("two"))
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestDeriveNodeIDIsDeterministic(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	pubBytes, err := id.SigPublic.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, id.NodeID, DeriveNodeID(pubBytes))
}
