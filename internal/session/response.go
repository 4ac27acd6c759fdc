package session

import (
	"encoding/xml"
	"fmt"

	"github.com/avoronov/lastvault/internal/common"
)

// The login endpoint answers with a small XML document:
//
//	<response>
//	  <ok token="..." sessionid="..." privatekeyenc="..." trustid="..."/>
//	</response>
//
// or, on failure:
//
//	<response>
//	  <error message="human text" cause="machine-cause"/>
//	</response>
//
// The cause "otprequired" (also seen as "googleauthrequired") is the only
// failure that is not terminal for the supplied credentials.

type loginOK struct {
	Token         string `xml:"token,attr"`
	SessionID     string `xml:"sessionid,attr"`
	PrivateKeyEnc string `xml:"privatekeyenc,attr"`
	TrustID       string `xml:"trustid,attr"`
}

type loginError struct {
	Message string `xml:"message,attr"`
	Cause   string `xml:"cause,attr"`
}

type loginResponse struct {
	XMLName xml.Name    `xml:"response"`
	OK      *loginOK    `xml:"ok"`
	Error   *loginError `xml:"error"`
}

func parseLoginResponse(body []byte) (*loginOK, error) {
	var resp loginResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unparseable login response: %v", common.ErrNetwork, err)
	}

	if resp.Error != nil {
		switch resp.Error.Cause {
		case "otprequired", "googleauthrequired", "otpfailed":
			return nil, fmt.Errorf("%w: %s", common.ErrOtpRequired, resp.Error.Message)
		default:
			return nil, fmt.Errorf("%w: %s", common.ErrLoginFailed, resp.Error.Message)
		}
	}
	if resp.OK == nil || resp.OK.Token == "" {
		return nil, fmt.Errorf("%w: login response carries neither ok nor error", common.ErrLoginFailed)
	}
	return resp.OK, nil
}
