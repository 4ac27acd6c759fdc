package vault

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"

	"github.com/avoronov/lastvault/internal/blob"
	"github.com/avoronov/lastvault/internal/common"
	"github.com/avoronov/lastvault/internal/cryptox"
)

// FetchAttachment downloads and decrypts one attachment's content. The
// server stores the body encrypted under the owning account's attachment
// key, base64-wrapped for transport.
func (s *Service) FetchAttachment(ctx context.Context, acct *blob.Account, att *blob.Attachment) ([]byte, error) {
	if acct == nil || att == nil {
		return nil, fmt.Errorf("%w: account and attachment are required", common.ErrInvalidInput)
	}
	if len(acct.AttachKey) == 0 {
		return nil, fmt.Errorf("%w: account %s has no attachment key", common.ErrDecryption, acct.ID)
	}
	if !s.sess.IsActive() {
		return nil, common.ErrNotLoggedIn
	}

	form := url.Values{"getattach": {att.ID}}
	if acct.ShareID != "" {
		form.Set("shareid", acct.ShareID)
	}

	body, err := s.sess.Post(ctx, "getattach.php", form)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(body)))
	if err != nil {
		data = body
	}

	plain, err := cryptox.DecryptField(data, acct.AttachKey)
	if err != nil {
		return nil, fmt.Errorf("attachment %s: %w", att.ID, err)
	}
	return plain, nil
}
