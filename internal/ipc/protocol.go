// File: internal/ipc/protocol.go
//
// Wire contract between the engine and the privileged automation server.
// Each request is a fresh connection: authenticate, send one envelope, block
// for one response, close. No multiplexing and no persistent session, so a
// stuck command cannot block others and a server restart is invisible to
// everything but the in-flight request.
package ipc

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	jsoniter "github.com/json-iterator/go"
	"github.com/xkilldash9x/deskpilot-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Verb is the command name carried in a request envelope.
type Verb string

const (
	VerbAnalyze      Verb = "analyze"
	VerbCheckHandle  Verb = "check_handle"
	VerbCloseWindow  Verb = "close_window"
	VerbActiveWindow Verb = "get_active_window"
	VerbInteract     Verb = "interact"
	VerbWindowList   Verb = "get_window_list"
	VerbRaiseWindow  Verb = "raise_window"
	VerbPing         Verb = "ping"
	VerbShutdown     Verb = "shutdown"
)

// InteractionType names the input gesture an interact request performs.
type InteractionType string

const (
	InteractClick       InteractionType = "click"
	InteractDoubleClick InteractionType = "double_click"
	InteractRightClick  InteractionType = "right_click"
	InteractType        InteractionType = "type"
)

// Payload is the union of all request parameters. Verbs read only the fields
// they define; everything else stays at its zero value.
type Payload struct {
	RootHandle   schemas.Handle  `json:"root_handle,omitempty"`
	Handle       schemas.Handle  `json:"handle,omitempty"`
	TopHandle    schemas.Handle  `json:"top_level_handle,omitempty"`
	AutomationID string          `json:"automation_id,omitempty"`
	Name         string          `json:"name,omitempty"`
	ControlType  string          `json:"control_type,omitempty"`
	Interaction  InteractionType `json:"interaction_type,omitempty"`
	Text         string          `json:"text_to_type,omitempty"`
	TargetRect   *schemas.Rect   `json:"target_rect,omitempty"`
}

// Request is the client-to-server envelope.
type Request struct {
	ID      string  `json:"id"`
	Command Verb    `json:"command"`
	Payload Payload `json:"payload"`
}

const (
	statusSuccess = "success"
	statusError   = "error"

	// msgHandleInvalid is the server's explicit stale-handle marker inside an
	// error response.
	msgHandleInvalid = "HandleInvalid"
)

// Response is the server-to-client envelope. Verbs populate only their own
// fields; Status/Message are common.
type Response struct {
	ID      string `json:"id,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`

	Data    []schemas.UIElement       `json:"data,omitempty"`
	Windows []schemas.WindowInfo      `json:"windows,omitempty"`
	Exists  bool                      `json:"exists,omitempty"`
	Rect    *schemas.Rect             `json:"rect,omitempty"`
	Active  *schemas.ActiveWindowInfo `json:"active,omitempty"`
}

// OK reports whether the response carries a success status.
func (r *Response) OK() bool { return r.Status == statusSuccess }

// HandleInvalid reports whether the response is the explicit stale-handle
// error.
func (r *Response) HandleInvalid() bool {
	return r.Status == statusError && r.Message == msgHandleInvalid
}

// maxFrame caps a single message. A full-desktop scan of a busy session runs
// to a few MB of elements; 32 MB leaves ample headroom without letting a
// corrupt length prefix allocate unbounded memory.
const maxFrame = 32 << 20

// writeFrame sends one length-prefixed JSON message.
func writeFrame(conn net.Conn, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(body) > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(body))
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := conn.Write(header[:]); err != nil {
		return err
	}
	_, err = conn.Write(body)
	return err
}

// readFrame receives one length-prefixed JSON message into v.
func readFrame(conn net.Conn, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(conn, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrame {
		return fmt.Errorf("frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}
	return nil
}

// challengeSize is the nonce length for the shared-secret handshake.
const challengeSize = 20

type challengeFrame struct {
	Challenge []byte `json:"challenge"`
}

type digestFrame struct {
	Digest []byte `json:"digest"`
}

type welcomeFrame struct {
	Welcome bool   `json:"welcome"`
	Message string `json:"message,omitempty"`
}

// answerChallenge is the client side of the handshake: receive the nonce,
// return its HMAC under the shared secret, and wait for the verdict.
func answerChallenge(conn net.Conn, secret []byte) error {
	var ch challengeFrame
	if err := readFrame(conn, &ch); err != nil {
		return fmt.Errorf("%w: reading challenge: %v", ErrAuthFailed, err)
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(ch.Challenge)
	if err := writeFrame(conn, digestFrame{Digest: mac.Sum(nil)}); err != nil {
		return fmt.Errorf("%w: sending digest: %v", ErrAuthFailed, err)
	}
	var w welcomeFrame
	if err := readFrame(conn, &w); err != nil {
		return fmt.Errorf("%w: reading welcome: %v", ErrAuthFailed, err)
	}
	if !w.Welcome {
		return ErrAuthFailed
	}
	return nil
}

// issueChallenge is the server side of the handshake.
func issueChallenge(conn net.Conn, secret []byte) error {
	nonce := make([]byte, challengeSize)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate challenge nonce: %w", err)
	}
	if err := writeFrame(conn, challengeFrame{Challenge: nonce}); err != nil {
		return err
	}
	var d digestFrame
	if err := readFrame(conn, &d); err != nil {
		return err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(nonce)
	if !hmac.Equal(d.Digest, mac.Sum(nil)) {
		// Tell the peer before closing so the client can distinguish a bad
		// secret from a dropped connection.
		_ = writeFrame(conn, welcomeFrame{Welcome: false, Message: "digest mismatch"})
		return ErrAuthFailed
	}
	return writeFrame(conn, welcomeFrame{Welcome: true})
}
