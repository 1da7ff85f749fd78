package messaging

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	DefaultTwilioURL = "https://api.twilio.com"
	defaultTimeout   = 10 * time.Second
)

type TwilioConfig struct {
	BaseURL    string
	AccountSID string
	AuthToken  string
	From       string
	Timeout    time.Duration
}

type Twilio struct {
	cfg    TwilioConfig
	client *http.Client
	log    *logrus.Entry
}

type twilioMessage struct {
	SID          string `json:"sid"`
	Status       string `json:"status"`
	From         string `json:"from"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

type twilioError struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func NewTwilio(cfg TwilioConfig, log *logrus.Logger) *Twilio {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Twilio{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.WithField("component", "twilio"),
	}
}

func (t *Twilio) Send(ctx context.Context, msg Outbound) (*Receipt, error) {
	form := url.Values{}
	form.Set("To", msg.To)
	form.Set("From", t.cfg.From)
	form.Set("Body", msg.Body)
	if msg.StatusCallback != "" {
		form.Set("StatusCallback", msg.StatusCallback)
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.cfg.BaseURL, "/"), url.PathEscape(t.cfg.AccountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &CarrierError{Err: err}
	}
	req.SetBasicAuth(t.cfg.AccountSID, t.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.log.WithError(err).Warn("send failed")
		return nil, &CarrierError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CarrierError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var te twilioError
		_ = json.Unmarshal(raw, &te)
		t.log.WithFields(logrus.Fields{"status": resp.StatusCode, "code": te.Code}).Warn(te.Message)
		return nil, &CarrierError{Status: resp.StatusCode, Code: te.Code, Msg: te.Message}
	}

	var m twilioMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &CarrierError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if m.SID == "" {
		return nil, &CarrierError{Status: resp.StatusCode, Msg: "missing message sid"}
	}

	t.log.WithFields(logrus.Fields{"carrier_id": m.SID, "carrier_status": m.Status}).Info("message accepted")
	return &Receipt{MessageID: m.SID, Status: m.Status, From: m.From, Raw: raw}, nil
}

// ValidateSignature checks an X-Twilio-Signature header: base64 HMAC-SHA1,
// keyed with the auth token, over the full callback URL followed by every
// POST parameter name and value sorted by name.
func (t *Twilio) ValidateSignature(fullURL string, params url.Values, signature string) bool {
	return ValidateSignature(t.cfg.AuthToken, fullURL, params, signature)
}

func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	expected := Sign(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func Sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
