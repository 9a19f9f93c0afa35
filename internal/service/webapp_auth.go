package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/avtomat-kz/avtomat-api/internal/models"
	appErrors "github.com/avtomat-kz/avtomat-api/pkg/errors"
)

// InitDataVerifier checks the signature Telegram puts on Mini App init data.
type InitDataVerifier struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewInitDataVerifier derives the signing key from the bot token. A positive maxAge
// rejects init data whose auth_date is older than that.
func NewInitDataVerifier(botToken string, maxAge time.Duration) *InitDataVerifier {
	return &InitDataVerifier{secret: webAppSecret(botToken), maxAge: maxAge, now: time.Now}
}

func webAppSecret(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// Verify validates raw init data and returns the user it was issued for.
func (v *InitDataVerifier) Verify(raw string) (*models.WebAppUser, error) {
	values, err := url.ParseQuery(strings.TrimSpace(raw))
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "malformed init data")
	}
	received := values.Get("hash")
	if received == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "init data is not signed")
	}
	values.Del("hash")

	want, err := hex.DecodeString(received)
	if err != nil || !hmac.Equal(want, signInitData(v.secret, values)) {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid init data signature")
	}

	if v.maxAge > 0 {
		unix, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "init data has no auth_date")
		}
		if v.now().Sub(time.Unix(unix, 0)) > v.maxAge {
			return nil, appErrors.Clone(appErrors.ErrUnauthorized, "init data expired")
		}
	}

	var user models.WebAppUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil || user.ID <= 0 {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "init data carries no user")
	}
	return &user, nil
}

// signInitData computes the HMAC over the sorted key=value lines.
func signInitData(secret []byte, values url.Values) []byte {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return mac.Sum(nil)
}
