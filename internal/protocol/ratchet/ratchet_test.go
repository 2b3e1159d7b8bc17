package ratchet_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"privcomm/internal/crypto"
	"privcomm/internal/domain"
	"privcomm/internal/protocol/ratchet"
)

// makePair returns initiator and responder states sharing a root key, the way
// X3DH would leave them.
func makePair(t *testing.T) (a, b domain.RatchetState) {
	t.Helper()

	root := bytes.Repeat([]byte{0x42}, 32)
	bPriv, bPub, err := crypto.GenerateX25519()
	if err != nil {
		t.Fatalf("GenerateX25519: %v", err)
	}

	a, err = ratchet.InitAsInitiator(root, bPub)
	if err != nil {
		t.Fatalf("InitAsInitiator: %v", err)
	}
	b, err = ratchet.InitAsResponder(root, bPriv, a.DHPub)
	if err != nil {
		t.Fatalf("InitAsResponder: %v", err)
	}
	return a, b
}

func TestRoundTrip(t *testing.T) {
	a, b := makePair(t)

	h, ct, err := ratchet.Encrypt(&a, nil, []byte("hello"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	pt, err := ratchet.Decrypt(&b, nil, h, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if string(pt) != "hello" {
		t.Fatalf("got %q, want %q", pt, "hello")
	}
}

func TestBidirectional(t *testing.T) {
	a, b := makePair(t)

	// A -> B, then B replies (forcing B's first send ratchet), then A again.
	for i, turn := range []struct {
		send, recv *domain.RatchetState
		msg        string
	}{
		{&a, &b, "ping"},
		{&b, &a, "pong"},
		{&a, &b, "ping 2"},
		{&b, &a, "pong 2"},
	} {
		h, ct, err := ratchet.Encrypt(turn.send, nil, []byte(turn.msg))
		if err != nil {
			t.Fatalf("turn %d Encrypt: %v", i, err)
		}
		pt, err := ratchet.Decrypt(turn.recv, nil, h, ct)
		if err != nil {
			t.Fatalf("turn %d Decrypt: %v", i, err)
		}
		if string(pt) != turn.msg {
			t.Fatalf("turn %d: got %q, want %q", i, pt, turn.msg)
		}
	}
}

func TestOutOfOrderDelivery(t *testing.T) {
	a, b := makePair(t)

	type sent struct {
		h  domain.RatchetHeader
		ct []byte
	}
	var msgs []sent
	for i := 0; i < 3; i++ {
		h, ct, err := ratchet.Encrypt(&a, nil, []byte(fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("Encrypt %d: %v", i, err)
		}
		msgs = append(msgs, sent{h, ct})
	}

	// Deliver c+2, c, c+1.
	for _, i := range []int{2, 0, 1} {
		pt, err := ratchet.Decrypt(&b, nil, msgs[i].h, msgs[i].ct)
		if err != nil {
			t.Fatalf("Decrypt %d: %v", i, err)
		}
		want := fmt.Sprintf("msg-%d", i)
		if string(pt) != want {
			t.Fatalf("got %q, want %q", pt, want)
		}
	}
}

func TestSkippedKeyConsumedOnce(t *testing.T) {
	a, b := makePair(t)

	h0, ct0, _ := ratchet.Encrypt(&a, nil, []byte("zero"))
	h1, ct1, _ := ratchet.Encrypt(&a, nil, []byte("one"))

	if _, err := ratchet.Decrypt(&b, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt one: %v", err)
	}
	if _, err := ratchet.Decrypt(&b, nil, h0, ct0); err != nil {
		t.Fatalf("Decrypt zero via skip cache: %v", err)
	}
	// Replaying the consumed message must fail.
	if _, err := ratchet.Decrypt(&b, nil, h0, ct0); !errors.Is(err, ratchet.ErrSkippedKeyNotFound) {
		t.Fatalf("replay: got %v, want ErrSkippedKeyNotFound", err)
	}
}

func TestWindowExhaustion(t *testing.T) {
	a, b := makePair(t)

	h0, ct0, err := ratchet.Encrypt(&a, nil, []byte("oldest"))
	if err != nil {
		t.Fatalf("Encrypt oldest: %v", err)
	}
	h1, ct1, err := ratchet.Encrypt(&a, nil, []byte("second"))
	if err != nil {
		t.Fatalf("Encrypt second: %v", err)
	}

	// Skip past the cache cap so the oldest key is evicted.
	var last struct {
		h  domain.RatchetHeader
		ct []byte
	}
	for i := 0; i < ratchet.MaxSkipped; i++ {
		last.h, last.ct, err = ratchet.Encrypt(&a, nil, []byte("filler"))
		if err != nil {
			t.Fatalf("Encrypt filler %d: %v", i, err)
		}
	}
	if _, err := ratchet.Decrypt(&b, nil, last.h, last.ct); err != nil {
		t.Fatalf("Decrypt latest: %v", err)
	}

	if _, err := ratchet.Decrypt(&b, nil, h0, ct0); !errors.Is(err, ratchet.ErrSkippedKeyNotFound) {
		t.Fatalf("evicted oldest: got %v, want ErrSkippedKeyNotFound", err)
	}
	// The second message is still inside the window.
	if pt, err := ratchet.Decrypt(&b, nil, h1, ct1); err != nil || string(pt) != "second" {
		t.Fatalf("second: pt=%q err=%v", pt, err)
	}
}

func TestSkippedKeySurvivesRatchetStep(t *testing.T) {
	a, b := makePair(t)

	hold, holdCT, _ := ratchet.Encrypt(&a, nil, []byte("delayed"))
	h1, ct1, _ := ratchet.Encrypt(&a, nil, []byte("delivered"))

	if _, err := ratchet.Decrypt(&b, nil, h1, ct1); err != nil {
		t.Fatalf("Decrypt delivered: %v", err)
	}

	// A full round trip ratchets both sides.
	hr, ctr, _ := ratchet.Encrypt(&b, nil, []byte("reply"))
	if _, err := ratchet.Decrypt(&a, nil, hr, ctr); err != nil {
		t.Fatalf("Decrypt reply: %v", err)
	}
	h2, ct2, _ := ratchet.Encrypt(&a, nil, []byte("new chain"))
	if _, err := ratchet.Decrypt(&b, nil, h2, ct2); err != nil {
		t.Fatalf("Decrypt new chain: %v", err)
	}

	// The delayed message from the old chain still opens.
	pt, err := ratchet.Decrypt(&b, nil, hold, holdCT)
	if err != nil {
		t.Fatalf("Decrypt delayed: %v", err)
	}
	if string(pt) != "delayed" {
		t.Fatalf("got %q, want %q", pt, "delayed")
	}
}

func TestTamperedCiphertextFails(t *testing.T) {
	a, b := makePair(t)

	h, ct, _ := ratchet.Encrypt(&a, nil, []byte("intact"))
	ct[0] ^= 0xff
	if _, err := ratchet.Decrypt(&b, nil, h, ct); err == nil {
		t.Fatal("tampered ciphertext decrypted")
	}
}

func TestAssociatedDataMismatchFails(t *testing.T) {
	a, b := makePair(t)

	h, ct, _ := ratchet.Encrypt(&a, []byte("ad-1"), []byte("bound"))
	if _, err := ratchet.Decrypt(&b, []byte("ad-2"), h, ct); err == nil {
		t.Fatal("mismatched associated data decrypted")
	}
}
