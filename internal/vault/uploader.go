package vault

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"

	"github.com/avoronov/lastvault/internal/queue"
)

// pendingOp is the queue payload: the endpoint and the already-encrypted
// form to replay. No plaintext secret ever reaches the queue.
type pendingOp struct {
	Path string     `json:"path"`
	Form url.Values `json:"form"`
}

func encodePendingOp(path string, form url.Values) ([]byte, error) {
	return json.Marshal(pendingOp{Path: path, Form: form})
}

func decodePendingOp(payload []byte) (*pendingOp, error) {
	var op pendingOp
	if err := json.Unmarshal(payload, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// Uploader replays queued mutations through the session; it satisfies
// queue.Uploader.
type Uploader struct {
	sess Session
}

func NewUploader(sess Session) *Uploader {
	return &Uploader{sess: sess}
}

func (u *Uploader) Upload(ctx context.Context, e *queue.Entry) error {
	op, err := decodePendingOp(e.Payload)
	if err != nil {
		return err
	}
	_, err = u.sess.Post(ctx, op.Path, op.Form)
	return err
}

var aidPattern = regexp.MustCompile(`"aid"\s*:\s*"(\d+)"`)

// parseAccountID pulls the new account id out of the creation response.
// An unrecognized body yields an empty id; the id then surfaces on the
// next sync.
func parseAccountID(body []byte) string {
	m := aidPattern.FindSubmatch(body)
	if m == nil {
		return ""
	}
	return string(m[1])
}
