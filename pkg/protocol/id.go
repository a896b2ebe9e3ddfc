package protocol

import (
	"crypto/rand"
	"fmt"
)

// idAlphabet is the character set for generated ids. Lowercase alphanumeric
// keeps ids safe for filenames, tmux targets, and shell arguments.
const idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// idRandomLen is the number of random characters after the prefix.
const idRandomLen = 16

// NewID generates an id of the form "<prefix>-<16 random chars>" using
// crypto/rand. The prefix identifies the entity kind (e.g. "msg", "run").
func NewID(prefix string) string {
	buf := make([]byte, idRandomLen)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failure means the platform RNG is broken; there is no
		// reasonable fallback for identity generation.
		panic(fmt.Sprintf("protocol: crypto/rand failed: %v", err))
	}
	for i, b := range buf {
		buf[i] = idAlphabet[int(b)%len(idAlphabet)]
	}
	return prefix + "-" + string(buf)
}

// NewMessageID generates a mail message id.
func NewMessageID() string { return NewID("msg") }
