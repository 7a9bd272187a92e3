package crypto

import "testing"

func TestGroupRoundTrip(t *testing.T) {
	m := NewManager("correct horse battery staple")
	aad := []byte("msg-1")
	ct, err := m.EncryptGroup([]byte(`{"text":"hi"}`), aad)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}
	pt, err := m.DecryptGroup(ct, aad)
	if err != nil {
		t.Fatalf("DecryptGroup: %v", err)
	}
	if string(pt) != `{"text":"hi"}` {
		t.Fatalf("round trip mismatch: %s", pt)
	}
}

func TestGroupKeyRotationBreaksOldCiphertext(t *testing.T) {
	m := NewManager("passphrase-one")
	aad := []byte("msg-1")
	ct, err := m.EncryptGroup([]byte("secret"), aad)
	if err != nil {
		t.Fatalf("EncryptGroup: %v", err)
	}

	m.UpdateGroupPassphrase("passphrase-two")
	if _, err := m.DecryptGroup(ct, aad); err == nil {
		t.Fatal("expected decrypt to fail after passphrase rotation")
	}

	ct2, err := m.EncryptGroup([]byte("secret"), aad)
	if err != nil {
		t.Fatalf("EncryptGroup under new passphrase: %v", err)
	}
	pt, err := m.DecryptGroup(ct2, aad)
	if err != nil {
		t.Fatalf("DecryptGroup under new passphrase: %v", err)
	}
	if string(pt) != "secret" {
		t.Fatalf("mismatch: %s", pt)
	}
}

func TestNoiseNNHandshakeAndPrivateRoundTrip(t *testing.T) {
	m := NewManager("unused-for-private")

	initPub, initPriv, err := m.StartNoiseNN()
	if err != nil {
		t.Fatalf("StartNoiseNN: %v", err)
	}
	respPub, responderSession, err := m.RespondNoiseNN(initPub)
	if err != nil {
		t.Fatalf("RespondNoiseNN: %v", err)
	}
	initiatorSession, err := m.FinalizeNoiseNN(initPriv, respPub)
	if err != nil {
		t.Fatalf("FinalizeNoiseNN: %v", err)
	}

	aad := []byte("msg-42")
	ct, err := m.EncryptPrivate([]byte("hi there"), "chat-a", "msg-42", initiatorSession, aad)
	if err != nil {
		t.Fatalf("EncryptPrivate: %v", err)
	}
	pt, err := m.DecryptPrivate(ct, "chat-a", "msg-42", responderSession, aad)
	if err != nil {
		t.Fatalf("DecryptPrivate: %v", err)
	}
	if string(pt) != "hi there" {
		t.Fatalf("round trip mismatch: %s", pt)
	}

	// Wrong AAD must fail authentication.
	if _, err := m.DecryptPrivate(ct, "chat-a", "msg-42", responderSession, []byte("wrong-aad")); err == nil {
		t.Fatal("expected AAD mismatch to fail decryption")
	}
}

func TestChatSessionJSONRoundTrip(t *testing.T) {
	session := ChatSession{}
	session.LocalPriv[0] = 1
	session.PeerPub[31] = 2

	data, err := session.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var decoded ChatSession
	if err := decoded.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if decoded != session {
		t.Fatalf("round trip mismatch: %+v != %+v", decoded, session)
	}
}
